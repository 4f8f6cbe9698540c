package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAndAgentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveThread(ctx, "sess-1"))
	_, err := s.CreateSession(ctx, "sess-1", "work")
	require.NoError(t, err)

	loaded, err := s.GetSession(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.ID)
	assert.Equal(t, 0, loaded.NextChildIndex)

	next, err := s.NextChildIndex(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
	next, err = s.NextChildIndex(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	_, err = s.CreateSessionAgent(ctx, SessionAgentRow{
		SessionID: "sess-1",
		Name:      "planner",
		ThreadID:  "sess-1.1",
		Provider:  "anthropic",
		Model:     "claude",
	})
	require.NoError(t, err)

	require.NoError(t, s.SetActiveAgent(ctx, "sess-1", "planner"))
	loaded, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "planner", loaded.ActiveAgent)

	agents, err := s.ListSessionAgents(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, AgentStatusActive, agents[0].Status)

	require.NoError(t, s.UpdateSessionAgentStatus(ctx, "sess-1", "planner", AgentStatusCompleted))
	agents, err = s.ListSessionAgents(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, AgentStatusCompleted, agents[0].Status)
	require.NotNil(t, agents[0].CompletedAt)

	require.NoError(t, s.DeleteSessionAgent(ctx, "sess-1", "planner"))
	agents, err = s.ListSessionAgents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
