package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskParams{
		Title:      "fix flaky test",
		Prompt:     "investigate pkg/store flakiness",
		Priority:   TaskPriorityHigh,
		AssignedTo: "reviewer",
		CreatedBy:  "planner",
		SessionID:  "session-1",
	})
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, task.Status)

	loaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, loaded.Title)

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, TaskStatusInProgress))
	loaded, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusInProgress, loaded.Status)

	require.NoError(t, s.AssignTask(ctx, task.ID, "new:anthropic/claude-sonnet"))
	loaded, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "new:anthropic/claude-sonnet", loaded.AssignedTo)

	_, err = s.AddNote(ctx, task.ID, "reviewer", "started investigating")
	require.NoError(t, err)
	_, err = s.AddNote(ctx, task.ID, "reviewer", "found the race")
	require.NoError(t, err)

	notes, err := s.ListNotes(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "started investigating", notes[0].Content)

	mine, err := s.ListMyTasks(ctx, "new:anthropic/claude-sonnet")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	sessionTasks, err := s.ListSessionTasks(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, sessionTasks, 1)
}

func TestUpdateTaskStatus_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateTaskStatus(context.Background(), "missing", TaskStatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
}
