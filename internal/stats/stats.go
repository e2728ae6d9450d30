// Package stats maintains the set of known forwarding paths and their recent
// performance, and supplies the path the engine should try next. Each manager
// instance owns its own table; nothing here is process-wide.
package stats

import (
	"sort"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/errors"
)

// Record tracks the recent performance of one forwarding path.
type Record struct {
	path          enc.Name
	failureStreak int // consecutive failures since the last success
	sent          int
	succeeded     int
}

// Path returns the forwarding-path name of this record.
func (r *Record) Path() enc.Name {
	return r.path
}

// FailureStreak returns the number of consecutive failures since the last
// success on this path.
func (r *Record) FailureStreak() int {
	return r.failureStreak
}

// successRate is in [0, 1]; untried paths rank as if perfect so new paths get
// a chance before being demoted.
func (r *Record) successRate() float64 {
	if r.sent == 0 {
		return 1
	}

	return float64(r.succeeded) / float64(r.sent)
}

// Snapshot is the persistable view of one path record.
type Snapshot struct {
	Path      string `json:"path"`
	Sent      int    `json:"sent"`
	Succeeded int    `json:"succeeded"`
}

// Table ranks forwarding paths. Rank order is significant, insertion order is
// not. The cursor designates the path dispatches currently use; it only moves
// on Advance or when a resort cannot preserve it.
type Table struct {
	records []*Record
	byPath  map[string]*Record
	cursor  int
}

func NewTable() *Table {
	return &Table{
		byPath: make(map[string]*Record),
	}
}

// Insert adds a path with a clean slate. No-op if the path is already known.
func (t *Table) Insert(path enc.Name) {
	key := path.String()
	if _, ok := t.byPath[key]; ok {
		return
	}

	r := &Record{path: path.Clone()}
	t.byPath[key] = r
	t.records = append(t.records, r)
}

// Restore inserts a path with counters carried over from a previous session.
func (t *Table) Restore(path enc.Name, sent, succeeded int) {
	t.Insert(path)

	r := t.byPath[path.String()]
	r.sent = sent
	r.succeeded = succeeded
}

// Current returns the path at the ranking cursor.
func (t *Table) Current() (enc.Name, error) {
	if len(t.records) == 0 {
		return nil, errors.ErrNoPathsAvailable
	}

	return t.records[t.cursor].path, nil
}

// Advance moves the cursor to the next path in rank order, wrapping at the
// end. Used when retries are exhausted on the current path.
func (t *Table) Advance() {
	if len(t.records) == 0 {
		return
	}

	t.cursor = (t.cursor + 1) % len(t.records)
}

// RecordOutcome updates the failure streak and success counters of a path.
// Unknown paths are ignored.
func (t *Table) RecordOutcome(path enc.Name, success bool) {
	r, ok := t.byPath[path.String()]
	if !ok {
		return
	}

	r.sent++

	if success {
		r.succeeded++
		r.failureStreak = 0
	} else {
		r.failureStreak++
	}
}

// Resort re-orders paths by descending quality: shorter failure streak first,
// then higher success rate. The cursor stays on the same path when that path
// survives the sort, otherwise it resets to the new top entry. Sorting is
// stable, so two resorts with no outcomes in between yield the same order.
func (t *Table) Resort() {
	if len(t.records) == 0 {
		return
	}

	current := t.records[t.cursor]

	sort.SliceStable(t.records, func(i, j int) bool {
		a, b := t.records[i], t.records[j]
		if a.failureStreak != b.failureStreak {
			return a.failureStreak < b.failureStreak
		}

		return a.successRate() > b.successRate()
	})

	t.cursor = 0

	for i, r := range t.records {
		if r == current {
			t.cursor = i
			break
		}
	}
}

// Len returns the number of known paths.
func (t *Table) Len() int {
	return len(t.records)
}

// Paths returns all known paths in current rank order.
func (t *Table) Paths() []enc.Name {
	out := make([]enc.Name, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.path)
	}

	return out
}

// Export returns a persistable snapshot of every record, in rank order.
func (t *Table) Export() []Snapshot {
	out := make([]Snapshot, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, Snapshot{
			Path:      r.path.String(),
			Sent:      r.sent,
			Succeeded: r.succeeded,
		})
	}

	return out
}
