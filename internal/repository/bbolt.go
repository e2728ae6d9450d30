// Package repository persists per-torrent session records so path quality
// and completion status survive restarts.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/AkshayRaman/nTorrent/internal/stats"
)

const (
	sessionsBucket = "sessions"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

var (
	// ErrSessionNotFound is returned when no session is stored for a torrent
	ErrSessionNotFound = errors.New("session not found")
)

// Session is the persisted state of one torrent: identity, completion, and
// the path quality counters feeding the ranking table on the next start.
type Session struct {
	Torrent   string           `json:"torrent"`
	Seed      bool             `json:"seed"`
	Complete  bool             `json:"complete"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Paths     []stats.Snapshot `json:"paths"`
}

// SessionRepository stores sessions in a bbolt database keyed by torrent
// name.
type SessionRepository struct {
	db *bbolt.DB
}

// NewSessionRepository opens (creating if needed) the session database.
func NewSessionRepository(dbPath string) (*SessionRepository, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SessionRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *SessionRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		if err != nil {
			return fmt.Errorf("failed to create sessions bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))

		err = meta.Put([]byte("schema_version"), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Save persists a session, replacing any previous record for the torrent.
func (r *SessionRepository) Save(session *Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}

	if session.Torrent == "" {
		return errors.New("session torrent name cannot be empty")
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		err = bucket.Put([]byte(session.Torrent), data)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		return nil
	})
}

// Find retrieves the session for a torrent by base name.
func (r *SessionRepository) Find(torrent string) (*Session, error) {
	if torrent == "" {
		return nil, errors.New("torrent name cannot be empty")
	}

	var data []byte

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		data = bucket.Get([]byte(torrent))
		if data == nil {
			return ErrSessionNotFound
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return session, nil
}

// FindAll retrieves every stored session.
func (r *SessionRepository) FindAll() ([]*Session, error) {
	var sessions []*Session

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			session := &Session{}

			if err := json.Unmarshal(v, session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}

			sessions = append(sessions, session)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes the session for a torrent.
func (r *SessionRepository) Delete(torrent string) error {
	if torrent == "" {
		return errors.New("torrent name cannot be empty")
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		if bucket.Get([]byte(torrent)) == nil {
			return ErrSessionNotFound
		}

		return bucket.Delete([]byte(torrent))
	})
}

// Close closes the database
func (r *SessionRepository) Close() error {
	return r.db.Close()
}
