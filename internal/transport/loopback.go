package transport

import (
	"time"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/logger"
)

type registration struct {
	prefix    enc.Name
	responder Responder
}

// Loopback is an in-memory Transport connecting every manager attached to it.
// Requests resolve against registered responders when their path is up;
// unreachable paths, drop-listed names, and unanswered requests all surface
// as timeouts. Delivery happens strictly one event at a time inside
// ProcessEvents, preserving the engine's single-threaded model.
//
// TODO: add a forwarder-backed Transport speaking to a local NFD face so the
// engine can leave the loopback sandbox.
type Loopback struct {
	registrations []registration
	downPaths     map[string]struct{}
	drops         map[string]int // per content name, requests to fail before answering
	inbox         []*Request
}

func NewLoopback() *Loopback {
	return &Loopback{
		downPaths: make(map[string]struct{}),
		drops:     make(map[string]int),
	}
}

// Express queues the request; it resolves on the next ProcessEvents pass.
func (l *Loopback) Express(req *Request) error {
	l.inbox = append(l.inbox, req)
	return nil
}

// Register installs a responder for a prefix. A later registration for the
// same prefix replaces the earlier one.
func (l *Loopback) Register(prefix enc.Name, r Responder) error {
	for i, reg := range l.registrations {
		if reg.prefix.Equal(prefix) {
			l.registrations[i].responder = r
			return nil
		}
	}

	l.registrations = append(l.registrations, registration{prefix: prefix.Clone(), responder: r})

	return nil
}

func (l *Loopback) Unregister(prefix enc.Name) error {
	for i, reg := range l.registrations {
		if reg.prefix.Equal(prefix) {
			l.registrations = append(l.registrations[:i], l.registrations[i+1:]...)
			return nil
		}
	}

	return nil
}

// SetPathUp makes a forwarding path reachable again.
func (l *Loopback) SetPathUp(path enc.Name) {
	delete(l.downPaths, path.String())
}

// SetPathDown makes every request expressed along path time out.
func (l *Loopback) SetPathDown(path enc.Name) {
	l.downPaths[path.String()] = struct{}{}
}

// DropNext makes the next count requests for a specific name time out
// regardless of path, then answers normally.
func (l *Loopback) DropNext(n enc.Name, count int) {
	l.drops[n.String()] = count
}

// ProcessEvents resolves queued requests one at a time. With a zero timeout
// only the requests already queued on entry are processed; callbacks may
// queue more, which wait for the next pass. With a positive timeout the loop
// keeps draining until the inbox is empty or the deadline passes.
func (l *Loopback) ProcessEvents(timeout time.Duration) error {
	if timeout <= 0 {
		ready := len(l.inbox)
		for i := 0; i < ready && len(l.inbox) > 0; i++ {
			l.deliverNext()
		}

		return nil
	}

	deadline := time.Now().Add(timeout)
	for len(l.inbox) > 0 && time.Now().Before(deadline) {
		l.deliverNext()
	}

	return nil
}

// Pending returns the number of undelivered requests.
func (l *Loopback) Pending() int {
	return len(l.inbox)
}

func (l *Loopback) deliverNext() {
	req := l.inbox[0]
	l.inbox = l.inbox[1:]

	if _, down := l.downPaths[req.Path.String()]; down {
		l.timeout(req)
		return
	}

	if c, ok := l.drops[req.Name.String()]; ok && c > 0 {
		l.drops[req.Name.String()] = c - 1
		l.timeout(req)

		return
	}

	payload, ok := l.answer(req.Name)
	if !ok {
		l.timeout(req)
		return
	}

	if req.OnData != nil {
		req.OnData(req.Name, payload)
	}
}

// answer resolves a name against the longest matching registered prefix.
func (l *Loopback) answer(n enc.Name) ([]byte, bool) {
	best := -1
	for i, reg := range l.registrations {
		if reg.prefix.IsPrefix(n) && (best < 0 || len(reg.prefix) > len(l.registrations[best].prefix)) {
			best = i
		}
	}

	if best < 0 {
		return nil, false
	}

	return l.registrations[best].responder(n)
}

func (l *Loopback) timeout(req *Request) {
	logger.Debugf("loopback: timing out %s via %s", req.Name.String(), req.Path.String())

	if req.OnTimeout != nil {
		req.OnTimeout(req.Name, req.Path)
	}
}
