// Package task implements the Task Store (C9): a transition-checked
// facade over pkg/store's task CRUD.
package task

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/store"
)

// ErrInvalidTransition is returned when UpdateStatus is asked to move a
// task through a transition not in allowedTransitions.
var ErrInvalidTransition = errors.New("task: invalid status transition")

// ErrNotFound re-exports store.ErrNotFound so callers need not import
// pkg/store directly.
var ErrNotFound = store.ErrNotFound

// newAssigneePrefix marks an AssignedTo value as a spawn request rather
// than an existing agent name: a task whose assignedTo is
// "new:<provider>/<model>" is a request to the Session Manager to spawn an
// ephemeral agent of that provider/model and reassign the task to it.
const newAssigneePrefix = "new:"

// allowedTransitions is the allowed status transition graph: pending<->blocked,
// pending->in_progress->completed, in_progress<->blocked.
var allowedTransitions = map[store.TaskStatus]map[store.TaskStatus]bool{
	store.TaskStatusPending: {
		store.TaskStatusBlocked:    true,
		store.TaskStatusInProgress: true,
	},
	store.TaskStatusInProgress: {
		store.TaskStatusBlocked:   true,
		store.TaskStatusCompleted: true,
	},
	store.TaskStatusBlocked: {
		store.TaskStatusPending:    true,
		store.TaskStatusInProgress: true,
	},
	store.TaskStatusCompleted: {},
}

// Spawner is the Session Manager capability the Task Store calls into when
// a task's assignee names a `new:<provider>/<model>` spawn request.
type Spawner interface {
	SpawnEphemeralAgent(ctx context.Context, sessionID, provider, model string) (agentName string, err error)
}

// Store is the Task Store (C9). It wraps *store.Store, adding the
// transition closure and the new: assignee spawn hook.
type Store struct {
	backing *store.Store
	spawner Spawner
}

// New constructs a Task Store over backing. spawner may be nil if the
// caller never assigns tasks to a `new:` pseudo-agent.
func New(backing *store.Store, spawner Spawner) *Store {
	return &Store{backing: backing, spawner: spawner}
}

// CreateTask creates a new task, resolving a `new:<provider>/<model>`
// AssignedTo immediately via the Spawner rather than leaving it unresolved.
func (s *Store) CreateTask(ctx context.Context, p store.CreateTaskParams) (*store.Task, error) {
	resolved, err := s.resolveAssignee(ctx, p.SessionID, p.AssignedTo)
	if err != nil {
		return nil, err
	}
	p.AssignedTo = resolved
	return s.backing.CreateTask(ctx, p)
}

// resolveAssignee spawns an ephemeral agent and substitutes its name when
// assignee has the new: prefix; otherwise assignee passes through unchanged.
func (s *Store) resolveAssignee(ctx context.Context, sessionID, assignee string) (string, error) {
	provider, model, ok := parseNewAssignee(assignee)
	if !ok {
		return assignee, nil
	}
	if s.spawner == nil {
		return "", errors.Errorf("task: assignee %q requires a spawner but none is configured", assignee)
	}
	name, err := s.spawner.SpawnEphemeralAgent(ctx, sessionID, provider, model)
	if err != nil {
		return "", errors.Wrap(err, "task: spawning agent for new: assignee")
	}
	return name, nil
}

func parseNewAssignee(assignee string) (provider, model string, ok bool) {
	if !strings.HasPrefix(assignee, newAssigneePrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(assignee, newAssigneePrefix)
	provider, model, found := strings.Cut(rest, "/")
	if !found {
		return "", "", false
	}
	return provider, model, true
}

// GetTask loads a single task.
func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	return s.backing.GetTask(ctx, id)
}

// ListMyTasks returns every task assigned to agent.
func (s *Store) ListMyTasks(ctx context.Context, agent string) ([]store.Task, error) {
	return s.backing.ListMyTasks(ctx, agent)
}

// ListSessionTasks returns every task created within sessionID.
func (s *Store) ListSessionTasks(ctx context.Context, sessionID string) ([]store.Task, error) {
	return s.backing.ListSessionTasks(ctx, sessionID)
}

// UpdateStatus transitions taskID to status, rejecting any move outside
// allowedTransitions.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status store.TaskStatus) error {
	current, err := s.backing.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	if !allowedTransitions[current.Status][status] {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", current.Status, status)
	}
	return s.backing.UpdateTaskStatus(ctx, taskID, status)
}

// AddNote appends a note to taskID.
func (s *Store) AddNote(ctx context.Context, taskID, author, content string) (*store.TaskNote, error) {
	return s.backing.AddNote(ctx, taskID, author, content)
}

// Assign reassigns taskID to assignee, resolving a new:<provider>/<model>
// pseudo-assignee through the Spawner exactly as CreateTask does.
func (s *Store) Assign(ctx context.Context, taskID, assignee string) error {
	t, err := s.backing.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	resolved, err := s.resolveAssignee(ctx, t.SessionID, assignee)
	if err != nil {
		return err
	}
	return s.backing.AssignTask(ctx, taskID, resolved)
}

// ListNotes returns every note on taskID, oldest first.
func (s *Store) ListNotes(ctx context.Context, taskID string) ([]store.TaskNote, error) {
	return s.backing.ListNotes(ctx, taskID)
}
