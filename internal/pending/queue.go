package pending

import (
	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/name"
)

type queued struct {
	name enc.Name
	kind name.Kind
}

// Queue is the ordered buffer of names known to be needed but not yet
// dispatched. FIFO order approximates discovery order, which matches
// sequential file consumption.
type Queue struct {
	items    []queued
	members  map[string]struct{}
	inflight *Set
}

// NewQueue creates a queue that checks pushes against the in-flight set, so a
// name is never queued while a request for it is outstanding.
func NewQueue(inflight *Set) *Queue {
	return &Queue{
		members:  make(map[string]struct{}),
		inflight: inflight,
	}
}

// Push appends a name. No-op when the name is already queued or in flight;
// returns whether the name was accepted.
func (q *Queue) Push(n enc.Name, k name.Kind) bool {
	key := n.String()

	if _, ok := q.members[key]; ok {
		return false
	}

	if q.inflight != nil && q.inflight.Contains(n) {
		return false
	}

	q.items = append(q.items, queued{name: n, kind: k})
	q.members[key] = struct{}{}

	return true
}

// Peek returns the earliest-pushed name without removing it.
func (q *Queue) Peek() (enc.Name, name.Kind, error) {
	if len(q.items) == 0 {
		return nil, name.KindUnknown, errors.ErrQueueEmpty
	}

	return q.items[0].name, q.items[0].kind, nil
}

// Pop removes and returns the earliest-pushed name.
func (q *Queue) Pop() (enc.Name, name.Kind, error) {
	if len(q.items) == 0 {
		return nil, name.KindUnknown, errors.ErrQueueEmpty
	}

	item := q.items[0]
	q.items = q.items[1:]
	delete(q.members, item.name.String())

	return item.name, item.kind, nil
}

// Contains reports whether a name is queued.
func (q *Queue) Contains(n enc.Name) bool {
	_, ok := q.members[n.String()]
	return ok
}

func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) IsEmpty() bool {
	return len(q.items) == 0
}
