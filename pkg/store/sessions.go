package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// AgentStatus mirrors pkg/session's lifecycle enum at the storage layer, so
// the store stays a dumb CRUD surface over CHECK-constrained columns the
// same way TaskStatus does for tasks.
type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusSuspended AgentStatus = "suspended"
	AgentStatusCompleted AgentStatus = "completed"
)

// SessionRow is the durable row backing a session.
type SessionRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	ActiveAgent    string    `db:"active_agent"`
	NextChildIndex int       `db:"next_child_index"`
	CreatedAt      time.Time `db:"created_at"`
}

// SessionAgentRow is the durable row backing one agent within a session.
type SessionAgentRow struct {
	SessionID   string     `db:"session_id"`
	Name        string     `db:"name"`
	ThreadID    string     `db:"thread_id"`
	Provider    string     `db:"provider"`
	Model       string     `db:"model"`
	Status      AgentStatus `db:"status"`
	Ephemeral   bool       `db:"ephemeral"`
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// CreateSession inserts a new session row. id must already be a saved
// thread (foreign key enforced).
func (s *Store) CreateSession(ctx context.Context, id, name string) (*SessionRow, error) {
	row := &SessionRow{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, active_agent, next_child_index, created_at)
		VALUES (?, ?, '', 0, ?)
	`, row.ID, row.Name, row.CreatedAt)
	return row, errors.Wrap(err, "store: creating session")
}

// GetSession loads a session by id or by name.
func (s *Store) GetSession(ctx context.Context, idOrName string) (*SessionRow, error) {
	var row SessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, active_agent, next_child_index, created_at
		FROM sessions WHERE id = ? OR name = ?
	`, idOrName, idOrName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &row, errors.Wrapf(err, "store: loading session %s", idOrName)
}

// ListSessions returns every session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRow, error) {
	var rows []SessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, active_agent, next_child_index, created_at
		FROM sessions ORDER BY created_at ASC
	`)
	return rows, errors.Wrap(err, "store: listing sessions")
}

// SetActiveAgent updates the session's active-agent pointer.
func (s *Store) SetActiveAgent(ctx context.Context, sessionID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET active_agent = ? WHERE id = ?`, name, sessionID)
	if err != nil {
		return errors.Wrapf(err, "store: setting active agent for session %s", sessionID)
	}
	return checkRowsAffected(res, sessionID)
}

// NextChildIndex atomically increments and returns the session's child
// thread counter, used to mint the next `sessionId.N` agent thread id.
func (s *Store) NextChildIndex(ctx context.Context, sessionID string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "store: beginning child-index transaction")
	}
	defer tx.Rollback()

	var next int
	if err := tx.GetContext(ctx, &next, `SELECT next_child_index FROM sessions WHERE id = ?`, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "store: reading child index")
	}
	next++
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET next_child_index = ? WHERE id = ?`, next, sessionID); err != nil {
		return 0, errors.Wrap(err, "store: bumping child index")
	}
	return next, errors.Wrap(tx.Commit(), "store: committing child-index bump")
}

// CreateSessionAgent inserts a new agent row, active by construction.
func (s *Store) CreateSessionAgent(ctx context.Context, row SessionAgentRow) (*SessionAgentRow, error) {
	row.Status = AgentStatusActive
	row.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_agents (session_id, name, thread_id, provider, model, status, ephemeral, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.SessionID, row.Name, row.ThreadID, row.Provider, row.Model, row.Status, row.Ephemeral, row.CreatedAt)
	return &row, errors.Wrapf(err, "store: registering agent %s in session %s", row.Name, row.SessionID)
}

// ListSessionAgents returns every agent registered within sessionID.
func (s *Store) ListSessionAgents(ctx context.Context, sessionID string) ([]SessionAgentRow, error) {
	var rows []SessionAgentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, name, thread_id, provider, model, status, ephemeral, created_at, completed_at
		FROM session_agents WHERE session_id = ?
	`, sessionID)
	return rows, errors.Wrapf(err, "store: listing agents for session %s", sessionID)
}

// UpdateSessionAgentStatus transitions an agent's status, stamping
// completed_at when the new status is completed.
func (s *Store) UpdateSessionAgentStatus(ctx context.Context, sessionID, name string, status AgentStatus) error {
	var completedAt *time.Time
	if status == AgentStatusCompleted {
		now := time.Now().UTC()
		completedAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_agents SET status = ?, completed_at = ? WHERE session_id = ? AND name = ?
	`, status, completedAt, sessionID, name)
	if err != nil {
		return errors.Wrapf(err, "store: updating agent %s status in session %s", name, sessionID)
	}
	return checkRowsAffected(res, sessionID+"/"+name)
}

// DeleteSessionAgent drops name's row, used by archival.
func (s *Store) DeleteSessionAgent(ctx context.Context, sessionID, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_agents WHERE session_id = ? AND name = ?`, sessionID, name)
	return errors.Wrapf(err, "store: deleting agent %s from session %s", name, sessionID)
}
