package task

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
)

type fakeSpawner struct {
	name string
	err  error
}

func (f fakeSpawner) SpawnEphemeralAgent(ctx context.Context, sessionID, provider, model string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.name, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTask_ResolvesNewAssigneeViaSpawner(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, fakeSpawner{name: "anthropic-claude-123"})

	created, err := ts.CreateTask(context.Background(), store.CreateTaskParams{
		Title:      "investigate flaky test",
		AssignedTo: "new:anthropic/claude",
		SessionID:  "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic-claude-123", created.AssignedTo)
}

func TestCreateTask_PlainAssigneePassesThrough(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, nil)

	created, err := ts.CreateTask(context.Background(), store.CreateTaskParams{
		Title:      "review PR",
		AssignedTo: "alice",
		SessionID:  "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.AssignedTo)
}

func TestCreateTask_NewAssigneeWithoutSpawnerErrors(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, nil)

	_, err := ts.CreateTask(context.Background(), store.CreateTaskParams{
		Title:      "needs a spawner",
		AssignedTo: "new:openai/gpt",
		SessionID:  "sess-1",
	})
	assert.Error(t, err)
}

func TestUpdateStatus_AllowsClosureTransitions(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, nil)
	ctx := context.Background()

	created, err := ts.CreateTask(ctx, store.CreateTaskParams{Title: "t", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusPending, created.Status)

	require.NoError(t, ts.UpdateStatus(ctx, created.ID, store.TaskStatusInProgress))
	require.NoError(t, ts.UpdateStatus(ctx, created.ID, store.TaskStatusBlocked))
	require.NoError(t, ts.UpdateStatus(ctx, created.ID, store.TaskStatusInProgress))
	require.NoError(t, ts.UpdateStatus(ctx, created.ID, store.TaskStatusCompleted))

	got, err := ts.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, got.Status)
}

func TestUpdateStatus_RejectsInvalidTransition(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, nil)
	ctx := context.Background()

	created, err := ts.CreateTask(ctx, store.CreateTaskParams{Title: "t", SessionID: "s"})
	require.NoError(t, err)

	require.NoError(t, ts.UpdateStatus(ctx, created.ID, store.TaskStatusInProgress))
	require.NoError(t, ts.UpdateStatus(ctx, created.ID, store.TaskStatusCompleted))

	err = ts.UpdateStatus(ctx, created.ID, store.TaskStatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAssign_ResolvesNewAssignee(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, fakeSpawner{name: "openai-gpt-999"})
	ctx := context.Background()

	created, err := ts.CreateTask(ctx, store.CreateTaskParams{Title: "t", AssignedTo: "bob", SessionID: "s"})
	require.NoError(t, err)

	require.NoError(t, ts.Assign(ctx, created.ID, "new:openai/gpt"))

	got, err := ts.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "openai-gpt-999", got.AssignedTo)
}

func TestAddNoteAndListNotes_FIFO(t *testing.T) {
	backing := openTestStore(t)
	ts := New(backing, nil)
	ctx := context.Background()

	created, err := ts.CreateTask(ctx, store.CreateTaskParams{Title: "t", SessionID: "s"})
	require.NoError(t, err)

	_, err = ts.AddNote(ctx, created.ID, "alice", "first")
	require.NoError(t, err)
	_, err = ts.AddNote(ctx, created.ID, "bob", "second")
	require.NoError(t, err)

	notes, err := ts.ListNotes(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "first", notes[0].Content)
	assert.Equal(t, "second", notes[1].Content)
}
