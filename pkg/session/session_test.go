package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/thread"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backing, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	return New(thread.New(backing), backing)
}

func TestCreateSession_AndLoadByNameOrID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	byID, err := m.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "work", byID.Name)

	byName, err := m.LoadSession(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byName.ID)
}

func TestCreateSession_DuplicateNameRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)

	_, err = m.CreateSession(ctx, "work")
	assert.Error(t, err)
}

func TestAddAgent_AssignsChildThreadIDAndRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)

	meta, err := m.AddAgent(ctx, sess.ID, AgentMeta{Name: "planner", Provider: "anthropic", Model: "claude"})
	require.NoError(t, err)
	assert.Equal(t, sess.ID+".1", meta.ThreadID)
	assert.Equal(t, AgentActive, meta.Status)

	_, err = m.AddAgent(ctx, sess.ID, AgentMeta{Name: "planner"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	second, err := m.AddAgent(ctx, sess.ID, AgentMeta{Name: "coder"})
	require.NoError(t, err)
	assert.Equal(t, sess.ID+".2", second.ThreadID)
}

func TestSuspendResumeComplete_LifecycleAndDefaultListFiltering(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)
	_, err = m.AddAgent(ctx, sess.ID, AgentMeta{Name: "planner"})
	require.NoError(t, err)
	_, err = m.AddAgent(ctx, sess.ID, AgentMeta{Name: "coder"})
	require.NoError(t, err)

	require.NoError(t, m.SuspendAgent(ctx, sess.ID, "planner"))
	require.NoError(t, m.CompleteAgent(ctx, sess.ID, "coder"))

	visible, err := m.ListAgents(ctx, sess.ID, AgentFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "planner", visible[0].Name)
	assert.Equal(t, AgentSuspended, visible[0].Status)

	all, err := m.ListAgents(ctx, sess.ID, AgentFilter{IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, m.ResumeAgent(ctx, sess.ID, "planner"))
	active, err := m.GetActiveAgent(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "planner", active.Name)
}

func TestArchiveCompletedAgents_RemovesOldCompletedOnly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)
	_, err = m.AddAgent(ctx, sess.ID, AgentMeta{Name: "a"})
	require.NoError(t, err)
	_, err = m.AddAgent(ctx, sess.ID, AgentMeta{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, m.CompleteAgent(ctx, sess.ID, "a"))

	n, err := m.ArchiveCompletedAgents(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := m.ListAgents(ctx, sess.ID, AgentFilter{IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Name)
}

func TestSpawnEphemeralAgent_MarksEphemeralAndAssignsThread(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)

	meta, err := m.SpawnEphemeralAgent(ctx, sess.ID, "anthropic", "claude-haiku")
	require.NoError(t, err)
	assert.True(t, meta.Ephemeral)
	assert.Equal(t, sess.ID+".1", meta.ThreadID)
	assert.Equal(t, "anthropic", meta.Provider)
}

func TestLoadSession_SurvivesNewManagerOverSameStore(t *testing.T) {
	ctx := context.Background()
	backing, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	threads := thread.New(backing)
	first := New(threads, backing)

	sess, err := first.CreateSession(ctx, "work")
	require.NoError(t, err)
	_, err = first.AddAgent(ctx, sess.ID, AgentMeta{Name: "planner", Provider: "anthropic", Model: "claude"})
	require.NoError(t, err)

	// A second Manager over the same store has no in-memory cache yet;
	// its first LoadSession must reconstruct the session and roster.
	second := New(threads, backing)

	reloaded, err := second.LoadSession(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, reloaded.ID)

	agents, err := second.ListAgents(ctx, sess.ID, AgentFilter{})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "planner", agents[0].Name)
	assert.Equal(t, sess.ID+".1", agents[0].ThreadID)

	third, err := second.AddAgent(ctx, sess.ID, AgentMeta{Name: "coder"})
	require.NoError(t, err)
	assert.Equal(t, sess.ID+".2", third.ThreadID, "child index must not restart after reconstruction")
}

func TestArchiveCompletedAgents_RespectsOlderThan(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "work")
	require.NoError(t, err)
	_, err = m.AddAgent(ctx, sess.ID, AgentMeta{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, m.CompleteAgent(ctx, sess.ID, "a"))

	n, err := m.ArchiveCompletedAgents(ctx, sess.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "just-completed agent is not older than an hour")
}
