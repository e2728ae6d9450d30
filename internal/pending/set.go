// Package pending tracks content names on their way to the network: the FIFO
// queue of names known to be needed, and the set of names currently in
// flight. A name lives in at most one of the two at any moment.
package pending

import (
	"github.com/google/uuid"
	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/name"
)

// Entry is one in-flight request: the name, its classification (computed at
// request-construction time), the attempt identity, the path in use, and the
// per-path retry bookkeeping.
type Entry struct {
	Name      enc.Name
	Kind      name.Kind
	AttemptID uuid.UUID
	Path      enc.Name

	retries   map[string]int
	exhausted map[string]struct{}
}

// NewAttempt stamps the entry with a fresh attempt identity against the given
// path. Called on every dispatch and re-dispatch.
func (e *Entry) NewAttempt(path enc.Name) {
	e.AttemptID = uuid.New()
	e.Path = path
}

// Retries returns the retry count accumulated against one path.
func (e *Entry) Retries(path enc.Name) int {
	return e.retries[path.String()]
}

// RecordRetry increments and returns the retry count for one path.
func (e *Entry) RecordRetry(path enc.Name) int {
	e.retries[path.String()]++
	return e.retries[path.String()]
}

// MarkExhausted records that retries ran out for this name on one path.
func (e *Entry) MarkExhausted(path enc.Name) {
	e.exhausted[path.String()] = struct{}{}
}

// Exhausted reports whether retries ran out for this name on one path.
func (e *Entry) Exhausted(path enc.Name) bool {
	_, ok := e.exhausted[path.String()]
	return ok
}

// ExhaustedCount returns the number of paths that ran out of retries for this
// name.
func (e *Entry) ExhaustedCount() int {
	return len(e.exhausted)
}

// Set is the registry of dispatched names awaiting a response. Absence of a
// name means its response or terminal failure has been fully processed.
type Set struct {
	entries map[string]*Entry
}

func NewSet() *Set {
	return &Set{
		entries: make(map[string]*Entry),
	}
}

// Add registers a name as in flight. Returns nil if the name is already
// present; a name appears at most once.
func (s *Set) Add(n enc.Name, k name.Kind) *Entry {
	key := n.String()
	if _, ok := s.entries[key]; ok {
		return nil
	}

	e := &Entry{
		Name:      n,
		Kind:      k,
		retries:   make(map[string]int),
		exhausted: make(map[string]struct{}),
	}
	s.entries[key] = e

	return e
}

// Get returns the entry for a name, or nil if the name is not in flight.
// Late events for absent names are treated as no-ops by the caller.
func (s *Set) Get(n enc.Name) *Entry {
	return s.entries[n.String()]
}

// Remove drops a name from the in-flight set.
func (s *Set) Remove(n enc.Name) {
	delete(s.entries, n.String())
}

// Contains reports whether a name is currently in flight.
func (s *Set) Contains(n enc.Name) bool {
	_, ok := s.entries[n.String()]
	return ok
}

// Len returns the in-flight count, bounded by the engine's window size.
func (s *Set) Len() int {
	return len(s.entries)
}
