// Package engine orchestrates downloading and seeding one torrent: it
// decides what to request next, bounds how many requests are outstanding,
// picks the forwarding path for each dispatch, reacts to timeouts with
// retry and path failover, and reconciles received content against on-disk
// completion state.
//
// The engine is single-threaded and event-driven: every mutation happens
// inside its public methods or inside ProcessEvents, which delivers network
// events strictly one at a time. No locking is needed by construction.
package engine

import (
	"fmt"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"golang.org/x/time/rate"

	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/logger"
	"github.com/AkshayRaman/nTorrent/internal/name"
	"github.com/AkshayRaman/nTorrent/internal/pending"
	"github.com/AkshayRaman/nTorrent/internal/repository"
	"github.com/AkshayRaman/nTorrent/internal/stats"
	"github.com/AkshayRaman/nTorrent/internal/tracker"
	"github.com/AkshayRaman/nTorrent/internal/transport"
)

const (
	// DefaultMaxRetries is the retry budget per path per name before the
	// engine fails over to the next path.
	DefaultMaxRetries = 5

	// DefaultSortingInterval is the number of dispatches between path
	// re-ranking passes.
	DefaultSortingInterval = 100

	// DefaultWindowSize bounds the number of simultaneously outstanding
	// requests.
	DefaultWindowSize = 50
)

// Config holds the per-torrent construction parameters.
type Config struct {
	// TorrentName is the torrent's base name; every segment, manifest, and
	// packet name hangs under it.
	TorrentName enc.Name

	// DataDir is the on-disk root for descriptors, manifests, and files.
	DataDir string

	// Seed keeps answering inbound requests for held content.
	Seed bool

	// Paths are the bootstrap forwarding paths.
	Paths []enc.Name

	MaxRetries      int
	SortingInterval int
	WindowSize      int

	// DispatchRate caps outgoing requests per second; zero means unlimited.
	DispatchRate float64
}

// Manager is the download/seed engine for one torrent. Multiple managers
// (multiple torrents) each own an independent path table and tracker.
type Manager struct {
	cfg       Config
	transport transport.Transport
	table     *stats.Table
	set       *pending.Set
	queue     *pending.Queue
	tracker   *tracker.Tracker
	repo      *repository.SessionRepository
	limiter   *rate.Limiter

	sortingCounter int
	events         []Event
	registered     bool
	shuttingDown   bool
}

// New creates a manager. A nil transport gets a private in-memory loopback,
// matching the optional pre-supplied transport of the construction contract.
// Initialize must be called before any other method.
func New(cfg Config, t transport.Transport, repo *repository.SessionRepository) (*Manager, error) {
	if len(cfg.TorrentName) == 0 {
		return nil, errors.New("torrent name must not be empty")
	}

	if cfg.DataDir == "" {
		return nil, errors.New("data directory must not be empty")
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	if cfg.SortingInterval <= 0 {
		cfg.SortingInterval = DefaultSortingInterval
	}

	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	if t == nil {
		t = transport.NewLoopback()
	}

	m := &Manager{
		cfg:       cfg,
		transport: t,
		table:     stats.NewTable(),
		set:       pending.NewSet(),
		tracker:   tracker.New(cfg.TorrentName, cfg.DataDir),
		repo:      repo,
	}
	m.queue = pending.NewQueue(m.set)

	if cfg.DispatchRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), cfg.WindowSize)
	}

	for _, p := range cfg.Paths {
		m.table.Insert(p)
	}

	return m, nil
}

// Initialize loads every descriptor segment, manifest segment, and data
// packet already on disk into the completion tracker, restores path quality
// from a previous session, and, in seed mode, registers to answer requests
// under the torrent's name prefix. No network dispatches happen here.
func (m *Manager) Initialize() error {
	if err := m.tracker.LoadFromDisk(); err != nil {
		return fmt.Errorf("failed to load on-disk state: %w", err)
	}

	m.restoreSession()

	if m.cfg.Seed {
		if err := m.transport.Register(m.cfg.TorrentName, m.tracker.Lookup); err != nil {
			return errors.NewNetworkError(err, m.cfg.TorrentName.String(), false)
		}

		m.registered = true
	}

	logger.Infof("initialized %s: torrent complete=%v, missing packets=%d",
		m.cfg.TorrentName.String(), m.tracker.HasAllTorrentSegments(), len(m.tracker.MissingAllDataPackets()))

	return nil
}

func (m *Manager) restoreSession() {
	if m.repo == nil {
		return
	}

	session, err := m.repo.Find(m.cfg.TorrentName.String())
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			logger.Warnf("could not restore session: %v", err)
		}

		return
	}

	for _, p := range session.Paths {
		pathName, err := enc.NameFromStr(p.Path)
		if err != nil {
			logger.Warnf("discarding unusable persisted path %q", p.Path)
			continue
		}

		m.table.Restore(pathName, p.Sent, p.Succeeded)
	}

	m.table.Resort()
}

// InsertPath adds a forwarding path to the ranking table.
func (m *Manager) InsertPath(path enc.Name) {
	m.table.Insert(path)
}

// BaseName returns the torrent base name this manager serves.
func (m *Manager) BaseName() enc.Name {
	return m.tracker.BaseName()
}

// HasAllTorrentSegments reports whether the torrent descriptor is complete.
func (m *Manager) HasAllTorrentSegments() bool {
	return m.tracker.HasAllTorrentSegments()
}

// HasDataPacket reports whether a data packet is already durably on disk.
func (m *Manager) HasDataPacket(packetName enc.Name) bool {
	return m.tracker.HasDataPacket(packetName)
}

// Complete reports whether every descriptor, manifest, and packet is held.
func (m *Manager) Complete() bool {
	return m.tracker.Complete()
}

// InFlight returns the number of outstanding requests.
func (m *Manager) InFlight() int {
	return m.set.Len()
}

// QueueLen returns the number of names awaiting dispatch.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// PathsSnapshot exposes the current rank order, top first.
func (m *Manager) PathsSnapshot() []stats.Snapshot {
	return m.table.Export()
}

// DownloadTorrentFile enqueues the next missing torrent-descriptor segment.
// Received segments cascade: each one enqueues the missing manifests it
// names, which in turn enqueue their missing packets.
func (m *Manager) DownloadTorrentFile() {
	if n := m.tracker.MissingTorrentSegment(); n != nil {
		m.queue.Push(n, name.KindTorrentSegment)
	}
}

// DownloadFileManifest enqueues the next missing segment of one manifest.
// Any segment name of the manifest addresses the same file record.
func (m *Manager) DownloadFileManifest(manifestName enc.Name) error {
	missing, err := m.tracker.MissingManifestSegment(manifestName)
	if err != nil {
		return err
	}

	if missing != nil {
		m.queue.Push(missing, name.KindManifestSegment)
	}

	return nil
}

// DownloadDataPacket enqueues one data packet. A packet already on disk
// completes immediately.
func (m *Manager) DownloadDataPacket(packetName enc.Name) error {
	if m.tracker.HasDataPacket(packetName) {
		m.events = append(m.events, Event{Kind: EventDataPacket, Name: packetName})
		return nil
	}

	k, err := name.Classify(m.cfg.TorrentName, packetName)
	if err != nil {
		return err
	}

	if k != name.KindDataPacket {
		return errors.NewResourceError(errors.ErrUnknownSegment, packetName.String())
	}

	m.queue.Push(packetName, name.KindDataPacket)

	return nil
}

// DownloadAll enqueues everything currently known to be missing and relies
// on the response path's cascade for the rest.
func (m *Manager) DownloadAll() {
	m.DownloadTorrentFile()

	for _, n := range m.tracker.MissingManifests() {
		m.queue.Push(n, name.KindManifestSegment)
	}

	for _, n := range m.tracker.MissingAllDataPackets() {
		m.queue.Push(n, name.KindDataPacket)
	}
}

// ProcessEvents drives the dispatch loop and delivers ready network events,
// returning the download outcomes they produced. A zero timeout processes
// exactly what is currently ready without blocking. The engine never panics
// through this entry point; faults downgrade to Failed events.
func (m *Manager) ProcessEvents(timeout time.Duration) ([]Event, error) {
	if m.shuttingDown {
		return nil, errors.ErrShuttingDown
	}

	m.dispatch()

	if err := m.transport.ProcessEvents(timeout); err != nil {
		return m.drainEvents(), errors.NewNetworkError(err, m.cfg.TorrentName.String(), true)
	}

	m.dispatch()

	return m.drainEvents(), nil
}

func (m *Manager) drainEvents() []Event {
	out := m.events
	m.events = nil

	return out
}

// Shutdown deregisters the seed responder, stops issuing new dispatches,
// persists the session, and releases file handles. Responses or timeouts
// arriving after shutdown are ignored as no-ops.
func (m *Manager) Shutdown() error {
	if m.shuttingDown {
		return nil
	}

	m.shuttingDown = true

	if m.registered {
		if err := m.transport.Unregister(m.cfg.TorrentName); err != nil {
			logger.Warnf("failed to unregister responder: %v", err)
		}

		m.registered = false
	}

	m.saveSession()

	if err := m.tracker.Close(); err != nil {
		return errors.NewIOError(err, m.cfg.TorrentName.String())
	}

	logger.Infof("shut down %s", m.cfg.TorrentName.String())

	return nil
}

func (m *Manager) saveSession() {
	if m.repo == nil {
		return
	}

	session := &repository.Session{
		Torrent:   m.cfg.TorrentName.String(),
		Seed:      m.cfg.Seed,
		Complete:  m.tracker.Complete(),
		UpdatedAt: time.Now(),
		Paths:     m.table.Export(),
	}

	if err := m.repo.Save(session); err != nil {
		logger.Errorf("failed to persist session: %v", err)
	}
}
