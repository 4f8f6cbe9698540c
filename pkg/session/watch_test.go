package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/thread"
)

func TestWatchStore_StartsAndClosesCleanly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	backing, err := store.Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	threads := thread.New(backing)
	w, err := WatchStore(context.Background(), dbPath, threads)
	require.NoError(t, err)

	require.NoError(t, w.Close())
}

func TestWatchStore_InvalidateDropsCachedThread(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	backing, err := store.Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	threads := thread.New(backing)
	_, err = threads.Append(context.Background(), "t1", thread.EventUserMessage, thread.NewUserMessage("hi"))
	require.NoError(t, err)

	w, err := WatchStore(context.Background(), dbPath, threads)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	cached, err := threads.GetOrLoad(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, cached.Events, 1)

	w.Invalidate("t1")

	reloaded, err := threads.GetOrLoad(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, reloaded.Events, 1)
}
