package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TaskStatus enumerates the allowed states of a Task. Transitions follow
// the closure pending<->blocked, pending->in_progress->completed,
// in_progress<->blocked; enforcement lives in pkg/task, not here: the
// store is a dumb CRUD surface over the CHECK-constrained columns.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// TaskPriority enumerates the allowed priorities of a Task.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// Task is the durable row; Notes are lazy-loaded separately.
type Task struct {
	ID          string       `db:"id"`
	Title       string       `db:"title"`
	Description string       `db:"description"`
	Prompt      string       `db:"prompt"`
	Status      TaskStatus   `db:"status"`
	Priority    TaskPriority `db:"priority"`
	AssignedTo  string       `db:"assigned_to"`
	CreatedBy   string       `db:"created_by"`
	SessionID   string       `db:"session_id"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// TaskNote is one append-only note attached to a task.
type TaskNote struct {
	ID        string    `db:"id"`
	TaskID    string    `db:"task_id"`
	Author    string    `db:"author"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
}

// CreateTaskParams is the input surface for CreateTask; ID/timestamps are
// assigned by the store.
type CreateTaskParams struct {
	Title       string
	Description string
	Prompt      string
	Priority    TaskPriority
	AssignedTo  string
	CreatedBy   string
	SessionID   string
}

// CreateTask inserts a new task in TaskStatusPending.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (*Task, error) {
	priority := p.Priority
	if priority == "" {
		priority = TaskPriorityMedium
	}
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.NewString(),
		Title:       p.Title,
		Description: p.Description,
		Prompt:      p.Prompt,
		Status:      TaskStatusPending,
		Priority:    priority,
		AssignedTo:  p.AssignedTo,
		CreatedBy:   p.CreatedBy,
		SessionID:   p.SessionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, prompt, status, priority, assigned_to, created_by, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, task.Description, task.Prompt, task.Status, task.Priority,
		task.AssignedTo, task.CreatedBy, task.SessionID, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "store: creating task")
	}
	return task, nil
}

// GetTask loads a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task, `
		SELECT id, title, description, prompt, status, priority, assigned_to, created_by, session_id, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &task, errors.Wrapf(err, "store: loading task %s", id)
}

// ListMyTasks returns every task assigned to agent, newest first.
func (s *Store) ListMyTasks(ctx context.Context, agent string) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT id, title, description, prompt, status, priority, assigned_to, created_by, session_id, created_at, updated_at
		FROM tasks WHERE assigned_to = ? ORDER BY created_at DESC
	`, agent)
	return tasks, errors.Wrap(err, "store: listing tasks by assignee")
}

// ListSessionTasks returns every task created within sessionID.
func (s *Store) ListSessionTasks(ctx context.Context, sessionID string) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT id, title, description, prompt, status, priority, assigned_to, created_by, session_id, created_at, updated_at
		FROM tasks WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
	return tasks, errors.Wrap(err, "store: listing session tasks")
}

// UpdateTaskStatus sets status and bumps updated_at. Transition legality is
// enforced by the caller (pkg/task); this is a raw write.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), taskID)
	if err != nil {
		return errors.Wrapf(err, "store: updating status of task %s", taskID)
	}
	return checkRowsAffected(res, taskID)
}

// AssignTask reassigns taskID to assignee.
func (s *Store) AssignTask(ctx context.Context, taskID, assignee string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET assigned_to = ?, updated_at = ? WHERE id = ?
	`, assignee, time.Now().UTC(), taskID)
	if err != nil {
		return errors.Wrapf(err, "store: assigning task %s", taskID)
	}
	return checkRowsAffected(res, taskID)
}

// AddNote appends a note to taskID. Notes are immutable once written.
func (s *Store) AddNote(ctx context.Context, taskID, author, content string) (*TaskNote, error) {
	note := &TaskNote{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Author:    author,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_notes (id, task_id, author, content, timestamp) VALUES (?, ?, ?, ?, ?)
	`, note.ID, note.TaskID, note.Author, note.Content, note.Timestamp)
	return note, errors.Wrapf(err, "store: adding note to task %s", taskID)
}

// ListNotes returns every note on taskID, oldest first (notes are lazy
// loaded separately from task listing).
func (s *Store) ListNotes(ctx context.Context, taskID string) ([]TaskNote, error) {
	var notes []TaskNote
	err := s.db.SelectContext(ctx, &notes, `
		SELECT id, task_id, author, content, timestamp FROM task_notes
		WHERE task_id = ? ORDER BY timestamp ASC
	`, taskID)
	return notes, errors.Wrapf(err, "store: listing notes for task %s", taskID)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "store: checking rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
