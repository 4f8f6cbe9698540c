package session

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/thread"
)

// StoreWatcher invalidates the Thread Store's in-memory cache when another
// process writes to the shared store file: any write event on the watched
// path invalidates every cached physical thread, since a SQLite write
// could touch any of them.
type StoreWatcher struct {
	watcher *fsnotify.Watcher
	threads *thread.Store

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
}

// WatchStore starts watching dbPath for external writes and invalidating
// threads' cache accordingly. Callers must call Close when done.
func WatchStore(ctx context.Context, dbPath string, threads *thread.Store) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "session: creating file watcher")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &StoreWatcher{watcher: watcher, threads: threads, ctx: watchCtx, cancel: cancel}

	if err := watcher.Add(dbPath); err != nil {
		watcher.Close()
		cancel()
		return nil, errors.Wrapf(err, "session: watching %s", dbPath)
	}

	w.shutdownWg.Add(1)
	go w.run()

	return w, nil
}

func (w *StoreWatcher) run() {
	defer w.shutdownWg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.invalidateAll()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.G(w.ctx).WithError(err).Warn("session: store watcher error")
		}
	}
}

// invalidateAll drops every cached thread, forcing the next read to go
// through Persistence. Coarser than strictly necessary (a write to one
// thread doesn't affect the others) but safe and simple.
func (w *StoreWatcher) invalidateAll() {
	w.threads.InvalidateAll()
}

// Invalidate forces id out of the Thread Store's cache. Exposed so a
// caller can invalidate one specific thread it knows is open, instead of
// waiting for the next external-write notification.
func (w *StoreWatcher) Invalidate(id string) {
	w.threads.Invalidate(id)
}

// Close stops the watcher goroutine and releases the underlying OS handle.
func (w *StoreWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.shutdownWg.Wait()
	return err
}
