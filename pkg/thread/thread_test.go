package thread

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
)

func newTestThreadStore(t *testing.T) *Store {
	t.Helper()
	backing, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	return New(backing)
}

func TestAppend_SeqDenseAndCached(t *testing.T) {
	ctx := context.Background()
	s := newTestThreadStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, "thread-1", EventUserMessage, NewUserMessage("hi"))
		require.NoError(t, err)
	}

	events, err := s.Events(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestGetOrLoad_EmptyUnknownThreadIsEmpty(t *testing.T) {
	s := newTestThreadStore(t)
	th, err := s.GetOrLoad(context.Background(), "never-written")
	require.NoError(t, err)
	assert.Empty(t, th.Events)
}

func TestCanonicalResolution_FollowsCurrentVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestThreadStore(t)

	_, err := s.Append(ctx, "canonical-1", EventUserMessage, NewUserMessage("original"))
	require.NoError(t, err)

	backing := s.backing.(*store.Store)
	require.NoError(t, backing.SaveThread(ctx, "shadow-1"))
	require.NoError(t, backing.CreateVersion(ctx, "canonical-1", "shadow-1", "compaction"))
	s.Invalidate("canonical-1")
	s.Invalidate("shadow-1")

	_, err = s.Append(ctx, "shadow-1", EventCompactionSummary, NewCompactionSummary("digest", [2]int{0, 1}))
	require.NoError(t, err)

	// Reading by the canonical id now transparently follows to shadow-1.
	events, err := s.Events(ctx, "canonical-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompactionSummary, events[0].Type)

	canonical, err := s.GetCanonicalID(ctx, "shadow-1")
	require.NoError(t, err)
	assert.Equal(t, "canonical-1", canonical)
}

func TestCompact_SwapsCurrentVersionAndPreservesEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestThreadStore(t)

	_, err := s.Append(ctx, "canonical-2", EventUserMessage, NewUserMessage("one"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "canonical-2", EventUserMessage, NewUserMessage("two"))
	require.NoError(t, err)

	newPhysical, err := s.Compact(ctx, "canonical-2", []Event{
		{Type: EventCompactionSummary, Data: NewCompactionSummary("digest", [2]int{0, 1})},
	}, "compaction")
	require.NoError(t, err)
	assert.NotEqual(t, "canonical-2", newPhysical)

	events, err := s.Events(ctx, "canonical-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompactionSummary, events[0].Type)
	assert.Equal(t, int64(1), events[0].Seq)
}
