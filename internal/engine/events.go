package engine

import (
	enc "github.com/named-data/ndnd/std/encoding"
)

// EventKind tags the results produced by one ProcessEvents pass.
type EventKind int

const (
	// EventTorrentSegment: a torrent-descriptor segment was received and
	// committed; Discovered holds the manifest names it newly referenced.
	EventTorrentSegment EventKind = iota

	// EventManifestSegment: a manifest segment was received and committed;
	// Discovered holds the packet names it newly described.
	EventManifestSegment

	// EventDataPacket: a data packet was received and durably written.
	EventDataPacket

	// EventFailed: the name failed terminally; Reason says why.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventTorrentSegment:
		return "torrent segment"
	case EventManifestSegment:
		return "manifest segment"
	case EventDataPacket:
		return "data packet"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one download outcome. Results reach the caller exclusively through
// these, returned from ProcessEvents; the caller chooses its own concurrency
// runtime around them.
type Event struct {
	Kind       EventKind
	Name       enc.Name
	Discovered []enc.Name
	Reason     string
}
