package migrations

import (
	"database/sql"

	"github.com/laceai/lace/pkg/db"
)

// migration20260301090000 creates the append-only event log and the
// canonical-id -> current-version-id resolution table described in the
// Conversation Core's persistence model: a Thread is identified by its
// version id, and a canonical id resolves to whichever version is current
// after compaction.
var migration20260301090000 = db.Migration{
	Version:     20260301090000,
	Description: "create threads, events, thread_versions tables",
	Up: func(tx *sql.Tx) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS threads (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				thread_id TEXT NOT NULL REFERENCES threads(id),
				seq INTEGER NOT NULL,
				type TEXT NOT NULL,
				data_json TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE(thread_id, seq)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_thread_seq ON events(thread_id, seq)`,
			`CREATE TABLE IF NOT EXISTS thread_versions (
				canonical_id TEXT PRIMARY KEY,
				current_version_id TEXT NOT NULL REFERENCES threads(id),
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS version_history (
				id TEXT PRIMARY KEY,
				canonical_id TEXT NOT NULL REFERENCES thread_versions(canonical_id),
				version_id TEXT NOT NULL REFERENCES threads(id),
				reason TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_version_history_canonical ON version_history(canonical_id, created_at)`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	},
	Down: func(tx *sql.Tx) error {
		statements := []string{
			`DROP TABLE IF EXISTS version_history`,
			`DROP TABLE IF EXISTS thread_versions`,
			`DROP TABLE IF EXISTS events`,
			`DROP TABLE IF EXISTS threads`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	},
}
