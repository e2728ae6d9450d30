package engine

import (
	"fmt"

	"github.com/google/uuid"
	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/logger"
	"github.com/AkshayRaman/nTorrent/internal/name"
	"github.com/AkshayRaman/nTorrent/internal/pending"
	"github.com/AkshayRaman/nTorrent/internal/transport"
)

// dispatch drains the queue into in-flight requests while the window has
// room. Each dispatch goes out on the table's current path.
func (m *Manager) dispatch() {
	if m.shuttingDown {
		return
	}

	for m.set.Len() < m.cfg.WindowSize && !m.queue.IsEmpty() {
		if m.limiter != nil && !m.limiter.Allow() {
			// Over the rate cap; the remainder waits for the next pump.
			return
		}

		n, k, err := m.queue.Pop()
		if err != nil {
			return
		}

		path, err := m.table.Current()
		if err != nil {
			// Nothing to retry against; surfaced, not retried.
			m.emitFailed(n, errors.ErrNoPathsAvailable.Error())
			continue
		}

		entry := m.set.Add(n, k)
		if entry == nil {
			continue
		}

		m.send(entry, path)
	}
}

// send stamps a fresh attempt and hands it to the transport. Every
// SortingInterval dispatches the path table is re-ranked.
func (m *Manager) send(e *pending.Entry, path enc.Name) {
	e.NewAttempt(path)
	attempt := e.AttemptID

	req := &transport.Request{
		ID:   attempt,
		Name: e.Name,
		Path: path,
		OnData: func(n enc.Name, payload []byte) {
			m.onData(n, payload)
		},
		OnTimeout: func(n, p enc.Name) {
			m.onTimeout(n, p, attempt)
		},
	}

	if err := m.transport.Express(req); err != nil {
		m.set.Remove(e.Name)
		m.emitFailed(e.Name, "transport refused dispatch: "+err.Error())

		return
	}

	logger.Debugf("dispatched %s via %s (attempt %s)", e.Name.String(), path.String(), attempt)

	m.sortingCounter++
	if m.sortingCounter%m.cfg.SortingInterval == 0 {
		m.table.Resort()
	}
}

// onData handles a response: account for the path, commit the payload, push
// the newly-known children, and refill the freed window slot. Events for
// names no longer pending are late arrivals and ignored.
func (m *Manager) onData(n enc.Name, payload []byte) {
	entry := m.set.Get(n)
	if entry == nil || m.shuttingDown {
		logger.Debugf("ignoring late response for %s", n.String())
		return
	}

	m.set.Remove(n)
	m.table.RecordOutcome(entry.Path, true)

	discovered, err := m.tracker.MarkReceived(n, entry.Kind, payload)
	if err != nil {
		m.emitFailed(n, failureReason(err))
		m.dispatch()

		return
	}

	switch entry.Kind {
	case name.KindTorrentSegment:
		m.chase(discovered, name.KindManifestSegment)
		m.enqueueNextSegment(n, entry.Kind)
		m.events = append(m.events, Event{Kind: EventTorrentSegment, Name: n, Discovered: discovered})

	case name.KindManifestSegment:
		m.chase(discovered, name.KindDataPacket)
		m.enqueueNextSegment(n, entry.Kind)
		m.events = append(m.events, Event{Kind: EventManifestSegment, Name: n, Discovered: discovered})

	case name.KindDataPacket:
		m.events = append(m.events, Event{Kind: EventDataPacket, Name: n})
	}

	m.dispatch()
}

// chase pushes every newly-discovered missing child onto the queue.
func (m *Manager) chase(children []enc.Name, k name.Kind) {
	for _, c := range children {
		m.queue.Push(c, k)
	}
}

// enqueueNextSegment keeps sequential descriptors flowing: after segment i
// of a torrent or manifest arrives, segment i+1 is requested until the final
// segment is held.
func (m *Manager) enqueueNextSegment(received enc.Name, k name.Kind) {
	switch k {
	case name.KindTorrentSegment:
		if next := m.tracker.MissingTorrentSegment(); next != nil {
			m.queue.Push(next, name.KindTorrentSegment)
		}

	case name.KindManifestSegment:
		next, err := m.tracker.MissingManifestSegment(received)
		if err == nil && next != nil {
			m.queue.Push(next, name.KindManifestSegment)
		}
	}
}

// onTimeout handles a lost attempt: account for the path, then retry on the
// current path, fail over, or give up once every path has exhausted its
// retry budget for this name. Retry counters are kept per (name, path); a
// path untried by this name starts from zero.
func (m *Manager) onTimeout(n, path enc.Name, attempt uuid.UUID) {
	entry := m.set.Get(n)
	if entry == nil || m.shuttingDown {
		logger.Debugf("ignoring late timeout for %s", n.String())
		return
	}

	if entry.AttemptID != attempt {
		// Timeout from a superseded attempt of this name.
		return
	}

	m.table.RecordOutcome(path, false)

	if entry.RecordRetry(path) < m.cfg.MaxRetries {
		// The cursor may have moved because of other failures; retry on
		// whatever the table currently ranks as the path to use.
		m.redispatch(entry)
		return
	}

	entry.MarkExhausted(path)

	if entry.ExhaustedCount() >= m.table.Len() {
		m.fail(entry)
		return
	}

	m.table.Advance()
	m.redispatch(entry)
}

// redispatch re-sends an in-flight entry on the first non-exhausted path at
// or after the cursor.
func (m *Manager) redispatch(e *pending.Entry) {
	for i := 0; i < m.table.Len(); i++ {
		path, err := m.table.Current()
		if err != nil {
			m.fail(e)
			return
		}

		if !e.Exhausted(path) {
			m.send(e, path)
			return
		}

		m.table.Advance()
	}

	m.fail(e)
}

// fail removes the name from the in-flight set, reports the terminal
// failure, and refills the freed window slot.
func (m *Manager) fail(e *pending.Entry) {
	m.set.Remove(e.Name)

	reason := fmt.Sprintf("%d retries exhausted on each of %d paths", m.cfg.MaxRetries, m.table.Len())
	if m.table.Len() == 0 {
		reason = errors.ErrNoPathsAvailable.Error()
	}

	m.emitFailed(e.Name, reason)
	m.dispatch()
}

func (m *Manager) emitFailed(n enc.Name, reason string) {
	logger.Warnf("download failed for %s: %s", n.String(), reason)
	m.events = append(m.events, Event{Kind: EventFailed, Name: n, Reason: reason})
}

// failureReason condenses a tracker error into the short human-readable form
// carried by Failed events.
func failureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrMalformedDescriptor):
		return "malformed descriptor: " + err.Error()
	case errors.Is(err, errors.ErrUnknownSegment):
		return "unknown segment: " + err.Error()
	case errors.IsIOError(err):
		return "persistence failure: " + err.Error()
	default:
		return err.Error()
	}
}
