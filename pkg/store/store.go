// Package store implements the Conversation Core's persistence layer (C1):
// a synchronous, transactional, file-backed event log plus the version
// mapping that lets a canonical thread id survive compaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/db"
	"github.com/laceai/lace/pkg/db/migrations"
	"github.com/laceai/lace/pkg/logger"
)

// ErrNotFound is returned when a requested thread, task, or version mapping
// does not exist. Callers branch on this with errors.Is.
var ErrNotFound = errors.New("store: not found")

// Event is the durable, immutable representation of a ThreadEvent.
type Event struct {
	ID        string          `db:"id"`
	ThreadID  string          `db:"thread_id"`
	Seq       int64           `db:"seq"`
	Type      string          `db:"type"`
	Data      json.RawMessage `db:"data_json"`
	CreatedAt time.Time       `db:"created_at"`
}

// Thread is a physical, append-only sequence of events.
type Thread struct {
	ID        string
	CreatedAt time.Time
	Events    []Event
}

// VersionHistoryEntry records one compaction swap for a canonical id.
type VersionHistoryEntry struct {
	ID          string    `db:"id"`
	CanonicalID string    `db:"canonical_id"`
	VersionID   string    `db:"version_id"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
}

// Store is the single write-serialized handle to the on-disk SQLite file.
// All mutating operations run inside a transaction; the database's own
// locking (pkg/db sets MaxOpenConns=1) is the mutex that serializes them.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the store at dbPath and applies each
// pending migration in its own transaction.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	sqlDB, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "store: opening database")
	}

	runner := db.NewMigrationRunner(sqlDB)
	if err := runner.Run(ctx, migrations.All()); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "store: running migrations")
	}

	return &Store{db: sqlDB}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveThread creates the thread row if it does not already exist. It is
// idempotent so agents can call it unconditionally before appending.
func (s *Store) SaveThread(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, threadID, time.Now().UTC())
	return errors.Wrapf(err, "store: saving thread %s", threadID)
}

// AppendEvent inserts the next event for threadID inside a transaction that
// also computes the next seq, guaranteeing dense, strictly increasing
// per-thread sequence numbers even under concurrent callers.
func (s *Store) AppendEvent(ctx context.Context, threadID, eventType string, data json.RawMessage) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "store: beginning append transaction")
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.GetContext(ctx, &maxSeq, `SELECT MAX(seq) FROM events WHERE thread_id = ?`, threadID); err != nil {
		return 0, errors.Wrap(err, "store: computing next seq")
	}
	nextSeq := int64(1)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, thread_id, seq, type, data_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, threadID, nextSeq, eventType, string(data), time.Now().UTC())
	if err != nil {
		return 0, errors.Wrapf(err, "store: appending event to thread %s", threadID)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "store: committing append")
	}

	logger.G(ctx).WithField("thread_id", threadID).WithField("seq", nextSeq).WithField("type", eventType).Debug("appended event")
	return nextSeq, nil
}

// LoadThread returns the physical thread and its full event list ordered by
// seq. Returns ErrNotFound if the thread row does not exist.
func (s *Store) LoadThread(ctx context.Context, id string) (*Thread, error) {
	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt, `SELECT created_at FROM threads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: loading thread %s", id)
	}

	var events []Event
	if err := s.db.SelectContext(ctx, &events, `
		SELECT id, thread_id, seq, type, data_json, created_at
		FROM events WHERE thread_id = ? ORDER BY seq ASC
	`, id); err != nil {
		return nil, errors.Wrapf(err, "store: loading events for thread %s", id)
	}

	return &Thread{ID: id, CreatedAt: createdAt, Events: events}, nil
}

// ListThreads returns every physical thread id known to the store.
func (s *Store) ListThreads(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM threads ORDER BY created_at ASC`)
	return ids, errors.Wrap(err, "store: listing threads")
}

// CreateVersion installs or swaps the current-version pointer for
// canonicalID to versionID, recording the swap in version_history. The
// target thread must already exist (foreign key enforced).
func (s *Store) CreateVersion(ctx context.Context, canonicalID, versionID, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: beginning version transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_versions (canonical_id, current_version_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(canonical_id) DO UPDATE SET current_version_id = excluded.current_version_id
	`, canonicalID, versionID, now)
	if err != nil {
		return errors.Wrap(err, "store: upserting thread_versions")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO version_history (id, canonical_id, version_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), canonicalID, versionID, reason, now)
	if err != nil {
		return errors.Wrap(err, "store: recording version_history")
	}

	return errors.Wrap(tx.Commit(), "store: committing version swap")
}

// GetCurrentVersion returns the physical thread id currently backing
// canonicalID, or ErrNotFound if canonicalID has never been mapped (i.e.
// the thread has never been compacted and canonicalID IS the physical id).
func (s *Store) GetCurrentVersion(ctx context.Context, canonicalID string) (string, error) {
	var versionID string
	err := s.db.GetContext(ctx, &versionID, `
		SELECT current_version_id FROM thread_versions WHERE canonical_id = ?
	`, canonicalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return versionID, errors.Wrap(err, "store: getting current version")
}

// FindCanonicalIDForVersion is the inverse lookup: given a physical thread
// id, find the canonical id it is currently serving, if any.
func (s *Store) FindCanonicalIDForVersion(ctx context.Context, versionID string) (string, error) {
	var canonicalID string
	err := s.db.GetContext(ctx, &canonicalID, `
		SELECT canonical_id FROM thread_versions WHERE current_version_id = ?
	`, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return canonicalID, errors.Wrap(err, "store: finding canonical id")
}

// GetVersionHistory returns every version swap recorded for canonicalID,
// oldest first.
func (s *Store) GetVersionHistory(ctx context.Context, canonicalID string) ([]VersionHistoryEntry, error) {
	var history []VersionHistoryEntry
	err := s.db.SelectContext(ctx, &history, `
		SELECT id, canonical_id, version_id, reason, created_at
		FROM version_history WHERE canonical_id = ? ORDER BY created_at ASC
	`, canonicalID)
	return history, errors.Wrap(err, "store: loading version history")
}

// CleanupOldShadows deletes all but the most recent keepLast physical
// threads that have ever backed canonicalID (excluding the current one),
// together with their events and version_history rows, all inside a single
// transaction so a partial failure leaves no thread half-deleted.
func (s *Store) CleanupOldShadows(ctx context.Context, canonicalID string, keepLast int) error {
	history, err := s.GetVersionHistory(ctx, canonicalID)
	if err != nil {
		return err
	}
	current, err := s.GetCurrentVersion(ctx, canonicalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	// Oldest-first history minus the current version, keep the newest
	// keepLast of the remainder, delete the rest.
	var candidates []string
	for _, h := range history {
		if h.VersionID != current {
			candidates = append(candidates, h.VersionID)
		}
	}
	if len(candidates) <= keepLast {
		return nil
	}
	toDelete := candidates[:len(candidates)-keepLast]

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: beginning cleanup transaction")
	}
	defer tx.Rollback()

	for _, versionID := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE thread_id = ?`, versionID); err != nil {
			return errors.Wrapf(err, "store: deleting events for shadow %s", versionID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM version_history WHERE version_id = ?`, versionID); err != nil {
			return errors.Wrapf(err, "store: deleting version history for shadow %s", versionID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, versionID); err != nil {
			return errors.Wrapf(err, "store: deleting shadow thread %s", versionID)
		}
	}

	return errors.Wrap(tx.Commit(), "store: committing shadow cleanup")
}
