package repository_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkshayRaman/nTorrent/internal/repository"
	"github.com/AkshayRaman/nTorrent/internal/stats"
)

func newRepo(t *testing.T) *repository.SessionRepository {
	t.Helper()

	repo, err := repository.NewSessionRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func sampleSession(torrent string) *repository.Session {
	return &repository.Session{
		Torrent:   torrent,
		Seed:      true,
		Complete:  false,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Paths: []stats.Snapshot{
			{Path: "/ucla", Sent: 12, Succeeded: 9},
			{Path: "/arizona", Sent: 3, Succeeded: 3},
		},
	}
}

func TestNewSessionRepository_OpenError(t *testing.T) {
	_, err := repository.NewSessionRepository(t.TempDir())
	assert.Error(t, err, "opening a directory as a database must fail")
}

func TestSaveValidation(t *testing.T) {
	repo := newRepo(t)

	assert.Error(t, repo.Save(nil))
	assert.Error(t, repo.Save(&repository.Session{}))
}

func TestSaveAndFindRoundTrip(t *testing.T) {
	repo := newRepo(t)
	in := sampleSession("/AkshayRaman/dist")

	require.NoError(t, repo.Save(in))

	out, err := repo.Find("/AkshayRaman/dist")
	require.NoError(t, err)

	assert.Equal(t, in.Torrent, out.Torrent)
	assert.Equal(t, in.Seed, out.Seed)
	assert.Equal(t, in.Complete, out.Complete)
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
	assert.Equal(t, in.Paths, out.Paths)
}

func TestSaveReplacesExisting(t *testing.T) {
	repo := newRepo(t)
	in := sampleSession("/AkshayRaman/dist")

	require.NoError(t, repo.Save(in))

	in.Complete = true
	in.Paths = in.Paths[:1]
	require.NoError(t, repo.Save(in))

	out, err := repo.Find("/AkshayRaman/dist")
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Len(t, out.Paths, 1)
}

func TestFindMissing(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.Find("/nowhere")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	_, err = repo.Find("")
	assert.Error(t, err)
}

func TestFindAll(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.Save(sampleSession("/a")))
	require.NoError(t, repo.Save(sampleSession("/b")))

	sessions, err := repo.FindAll()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestDelete(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.Save(sampleSession("/a")))
	require.NoError(t, repo.Delete("/a"))

	_, err := repo.Find("/a")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	assert.ErrorIs(t, repo.Delete("/a"), repository.ErrSessionNotFound)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repo, err := repository.NewSessionRepository(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.Save(sampleSession("/a")))
	require.NoError(t, repo.Close())

	reopened, err := repository.NewSessionRepository(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	out, err := reopened.Find("/a")
	require.NoError(t, err)
	assert.Equal(t, "/a", out.Torrent)
}
