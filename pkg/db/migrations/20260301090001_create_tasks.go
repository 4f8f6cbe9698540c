package migrations

import (
	"database/sql"

	"github.com/laceai/lace/pkg/db"
)

// migration20260301090001 creates the Task Store tables: tasks carry the
// shared-memory work item described for multi-agent delegation, and
// task_notes is the append-only note log attached to a task.
var migration20260301090001 = db.Migration{
	Version:     20260301090001,
	Description: "create tasks and task_notes tables",
	Up: func(tx *sql.Tx) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				prompt TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'in_progress', 'completed', 'blocked')),
				priority TEXT NOT NULL CHECK (priority IN ('high', 'medium', 'low')) DEFAULT 'medium',
				assigned_to TEXT NOT NULL DEFAULT '',
				created_by TEXT NOT NULL,
				session_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to)`,
			`CREATE TABLE IF NOT EXISTS task_notes (
				id TEXT PRIMARY KEY,
				task_id TEXT NOT NULL REFERENCES tasks(id),
				author TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_task_notes_task ON task_notes(task_id, timestamp)`,
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
			`DROP TABLE IF EXISTS task_notes`,
			`DROP TABLE IF EXISTS tasks`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	},
}
