package migrations

import (
	"database/sql"

	"github.com/laceai/lace/pkg/db"
)

// migration20260301090002 creates the Session Manager's durable roster:
// sessions (keyed by their root thread id) and session_agents (one row per
// agent registered within a session). The session's own conversation
// history still lives in threads/events; these tables hold the metadata a
// process restart can't recover from the event log alone (an agent's
// provider/model pairing, ephemeral flag, lifecycle status).
var migration20260301090002 = db.Migration{
	Version:     20260301090002,
	Description: "create sessions and session_agents tables",
	Up: func(tx *sql.Tx) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY REFERENCES threads(id),
				name TEXT NOT NULL UNIQUE,
				active_agent TEXT NOT NULL DEFAULT '',
				next_child_index INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS session_agents (
				session_id TEXT NOT NULL REFERENCES sessions(id),
				name TEXT NOT NULL,
				thread_id TEXT NOT NULL,
				provider TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK (status IN ('active', 'suspended', 'completed')),
				ephemeral INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				completed_at DATETIME,
				PRIMARY KEY (session_id, name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_session_agents_session ON session_agents(session_id)`,
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
			`DROP TABLE IF EXISTS session_agents`,
			`DROP TABLE IF EXISTS sessions`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	},
}
