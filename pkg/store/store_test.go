package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendEvent_DenseIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveThread(ctx, "thread-1"))

	for i := 0; i < 5; i++ {
		seq, err := s.AppendEvent(ctx, "thread-1", "USER_MESSAGE", json.RawMessage(`{"content":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}

	thread, err := s.LoadThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, thread.Events, 5)
	for i, ev := range thread.Events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestLoadThread_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadThread(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateVersion_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveThread(ctx, "canonical-1"))
	require.NoError(t, s.SaveThread(ctx, "shadow-1"))

	require.NoError(t, s.CreateVersion(ctx, "canonical-1", "shadow-1", "compaction"))

	current, err := s.GetCurrentVersion(ctx, "canonical-1")
	require.NoError(t, err)
	assert.Equal(t, "shadow-1", current)

	canonical, err := s.FindCanonicalIDForVersion(ctx, "shadow-1")
	require.NoError(t, err)
	assert.Equal(t, "canonical-1", canonical)

	history, err := s.GetVersionHistory(ctx, "canonical-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "compaction", history[0].Reason)
}

func TestCleanupOldShadows_KeepsOnlyLastK(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveThread(ctx, "canonical-1"))
	shadows := []string{"shadow-1", "shadow-2", "shadow-3", "shadow-4"}
	for _, sh := range shadows {
		require.NoError(t, s.SaveThread(ctx, sh))
		require.NoError(t, s.CreateVersion(ctx, "canonical-1", sh, "compaction"))
	}

	require.NoError(t, s.CleanupOldShadows(ctx, "canonical-1", 1))

	// shadow-4 is current, kept. shadow-3 is the last non-current (keepLast=1), kept.
	// shadow-1, shadow-2 deleted.
	for _, sh := range []string{"shadow-1", "shadow-2"} {
		_, err := s.LoadThread(ctx, sh)
		assert.ErrorIs(t, err, ErrNotFound, "expected %s to be cleaned up", sh)
	}
	for _, sh := range []string{"shadow-3", "shadow-4"} {
		_, err := s.LoadThread(ctx, sh)
		assert.NoError(t, err, "expected %s to survive cleanup", sh)
	}
}
