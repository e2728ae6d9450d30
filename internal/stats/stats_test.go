package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/stats"
)

func mustName(t *testing.T, s string) enc.Name {
	t.Helper()

	n, err := enc.NameFromStr(s)
	require.NoError(t, err)

	return n
}

func TestCurrentEmptyTable(t *testing.T) {
	table := stats.NewTable()

	_, err := table.Current()
	assert.ErrorIs(t, err, errors.ErrNoPathsAvailable)
}

func TestInsertIsIdempotent(t *testing.T) {
	table := stats.NewTable()
	ucla := mustName(t, "/ucla")

	table.Insert(ucla)
	table.Insert(ucla)

	assert.Equal(t, 1, table.Len())
}

func TestCurrentAndAdvanceWraps(t *testing.T) {
	table := stats.NewTable()
	ucla := mustName(t, "/ucla")
	arizona := mustName(t, "/arizona")

	table.Insert(ucla)
	table.Insert(arizona)

	cur, err := table.Current()
	require.NoError(t, err)
	assert.True(t, cur.Equal(ucla))

	table.Advance()

	cur, err = table.Current()
	require.NoError(t, err)
	assert.True(t, cur.Equal(arizona))

	table.Advance()

	cur, err = table.Current()
	require.NoError(t, err)
	assert.True(t, cur.Equal(ucla), "advance should wrap to the first path")
}

func TestResortPrefersShorterFailureStreak(t *testing.T) {
	table := stats.NewTable()
	ucla := mustName(t, "/ucla")
	arizona := mustName(t, "/arizona")

	table.Insert(ucla)
	table.Insert(arizona)

	table.RecordOutcome(ucla, false)
	table.RecordOutcome(ucla, false)
	table.RecordOutcome(arizona, true)

	table.Resort()

	paths := table.Paths()
	require.Len(t, paths, 2)
	assert.True(t, paths[0].Equal(arizona))
	assert.True(t, paths[1].Equal(ucla))
}

func TestResortBreaksTiesBySuccessRate(t *testing.T) {
	table := stats.NewTable()
	ucla := mustName(t, "/ucla")
	arizona := mustName(t, "/arizona")

	table.Insert(ucla)
	table.Insert(arizona)

	// Equal streaks (both end on a success), different rates.
	table.RecordOutcome(ucla, false)
	table.RecordOutcome(ucla, true)
	table.RecordOutcome(arizona, true)

	table.Resort()

	paths := table.Paths()
	assert.True(t, paths[0].Equal(arizona), "higher success rate should rank first")
}

func TestResortIsStableAcrossRepeats(t *testing.T) {
	table := stats.NewTable()

	for _, s := range []string{"/a", "/b", "/c", "/d"} {
		table.Insert(mustName(t, s))
	}

	table.RecordOutcome(mustName(t, "/c"), false)

	table.Resort()
	first := table.Paths()

	table.Resort()
	second := table.Paths()

	require.Len(t, second, len(first))

	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "repeated resort changed order at %d", i)
	}
}

func TestResortKeepsCursorOnSamePath(t *testing.T) {
	table := stats.NewTable()
	ucla := mustName(t, "/ucla")
	arizona := mustName(t, "/arizona")

	table.Insert(ucla)
	table.Insert(arizona)
	table.Advance() // cursor on /arizona

	// Demote /ucla so the sort moves /arizona to the front.
	table.RecordOutcome(ucla, false)
	table.Resort()

	cur, err := table.Current()
	require.NoError(t, err)
	assert.True(t, cur.Equal(arizona), "cursor should follow its path through a resort")
}

func TestUntriedPathRanksAsPerfect(t *testing.T) {
	table := stats.NewTable()
	tried := mustName(t, "/tried")
	fresh := mustName(t, "/fresh")

	table.Insert(tried)
	table.RecordOutcome(tried, true)
	table.RecordOutcome(tried, false)
	table.RecordOutcome(tried, true)

	table.Insert(fresh)
	table.Resort()

	paths := table.Paths()
	assert.True(t, paths[0].Equal(fresh), "an untried path should outrank a 2/3 path")
}

func TestRestoreAndExportRoundTrip(t *testing.T) {
	table := stats.NewTable()
	ucla := mustName(t, "/ucla")

	table.Restore(ucla, 10, 7)

	snaps := table.Export()
	require.Len(t, snaps, 1)
	assert.Equal(t, "/ucla", snaps[0].Path)
	assert.Equal(t, 10, snaps[0].Sent)
	assert.Equal(t, 7, snaps[0].Succeeded)
}

func TestRecordOutcomeUnknownPathIgnored(t *testing.T) {
	table := stats.NewTable()
	table.Insert(mustName(t, "/ucla"))

	table.RecordOutcome(mustName(t, "/nowhere"), true)

	snaps := table.Export()
	require.Len(t, snaps, 1)
	assert.Equal(t, 0, snaps[0].Sent)
}
