package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/store"
)

// Thread is the in-memory, typed view of a physical thread: its id and its
// full ordered event list.
type Thread struct {
	ID        string
	CreatedAt time.Time
	Events    []Event
}

// Backing is the persistence capability the Thread Store caches over. It is
// satisfied by *store.Store; tests may substitute a fake.
type Backing interface {
	SaveThread(ctx context.Context, threadID string) error
	AppendEvent(ctx context.Context, threadID, eventType string, data json.RawMessage) (int64, error)
	LoadThread(ctx context.Context, id string) (*store.Thread, error)
	GetCurrentVersion(ctx context.Context, canonicalID string) (string, error)
	FindCanonicalIDForVersion(ctx context.Context, versionID string) (string, error)
	CreateVersion(ctx context.Context, canonicalID, versionID, reason string) error
}

// Store is the process-local cache keyed by *physical* thread id. Writes
// always target the physical id; the canonical -> version mapping is
// read-time-only indirection, which is what makes compaction a pure
// "create-then-swap" operation.
type Store struct {
	backing Backing

	mu    sync.RWMutex
	cache map[string]*Thread

	// per-thread locks around append, so concurrent appends to the same
	// thread serialize instead of racing on seq assignment.
	threadLocks   map[string]*sync.Mutex
	threadLocksMu sync.Mutex
}

// New wraps backing with an in-memory cache.
func New(backing Backing) *Store {
	return &Store{
		backing:     backing,
		cache:       make(map[string]*Thread),
		threadLocks: make(map[string]*sync.Mutex),
	}
}

// GenerateThreadID returns a stable, date-prefixed random token suitable as
// a new canonical (and, until compacted, physical) thread id.
func (s *Store) GenerateThreadID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102"), uuid.NewString())
}

// GetCanonicalID resolves anyID (which may already be canonical, or may be
// a physical version id) to its canonical id. If anyID has never been
// mapped as either a canonical id or a version, it is its own canonical id.
func (s *Store) GetCanonicalID(ctx context.Context, anyID string) (string, error) {
	if canonical, err := s.backing.FindCanonicalIDForVersion(ctx, anyID); err == nil {
		return canonical, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	// anyID is not a known physical version of some other canonical id;
	// either it IS a canonical id already, or it's an unmapped (never
	// compacted) thread, which is its own canonical id either way.
	return anyID, nil
}

// resolvePhysical substitutes id's current version if id is a canonical id
// with an active mapping; otherwise id is used directly.
func (s *Store) resolvePhysical(ctx context.Context, id string) (string, error) {
	versionID, err := s.backing.GetCurrentVersion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return versionID, nil
}

// GetOrLoad resolves id (canonical or physical) to its current physical
// thread and returns the cached copy, loading from the backing store on a
// cache miss.
func (s *Store) GetOrLoad(ctx context.Context, id string) (*Thread, error) {
	physical, err := s.resolvePhysical(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.cache[physical]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := s.backing.LoadThread(ctx, physical)
	if errors.Is(err, store.ErrNotFound) {
		// Not yet created: an empty thread, lazily materialized on first
		// append via SaveThread.
		t := &Thread{ID: physical}
		s.putCache(physical, t)
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	t := fromStoreThread(raw)
	s.putCache(physical, t)
	return t, nil
}

func fromStoreThread(raw *store.Thread) *Thread {
	events := make([]Event, 0, len(raw.Events))
	for _, e := range raw.Events {
		events = append(events, Event{
			ID:        e.ID,
			ThreadID:  e.ThreadID,
			Seq:       e.Seq,
			Type:      EventType(e.Type),
			Data:      e.Data,
			Timestamp: e.CreatedAt,
		})
	}
	return &Thread{ID: raw.ID, CreatedAt: raw.CreatedAt, Events: events}
}

func (s *Store) putCache(id string, t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[id] = t
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.threadLocksMu.Lock()
	defer s.threadLocksMu.Unlock()
	l, ok := s.threadLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.threadLocks[id] = l
	}
	return l
}

// Append writes eventType/data as the next event on id's physical thread
// (resolving canonical ids first) and updates the in-memory cache to
// match, keeping seq dense and strictly increasing.
func (s *Store) Append(ctx context.Context, id string, eventType EventType, data json.RawMessage) (Event, error) {
	physical, err := s.resolvePhysical(ctx, id)
	if err != nil {
		return Event{}, err
	}

	lock := s.lockFor(physical)
	lock.Lock()
	defer lock.Unlock()

	if err := s.backing.SaveThread(ctx, physical); err != nil {
		return Event{}, err
	}

	seq, err := s.backing.AppendEvent(ctx, physical, string(eventType), data)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		ThreadID:  physical,
		Seq:       seq,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	t, ok := s.cache[physical]
	if !ok {
		t = &Thread{ID: physical}
		s.cache[physical] = t
	}
	t.Events = append(t.Events, ev)
	s.mu.Unlock()

	logger.G(ctx).WithField("thread_id", physical).WithField("type", string(eventType)).Debug("thread store: appended")
	return ev, nil
}

// Events returns the current event list for id (canonical or physical).
func (s *Store) Events(ctx context.Context, id string) ([]Event, error) {
	t, err := s.GetOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Events, nil
}

// Compact performs the "create-then-swap" operation: a new physical thread
// is created containing newEvents (the caller's compact(events) output,
// with any COMPACTION_SUMMARY event already prepended), the canonical id's
// version mapping is updated to point at it, and the cache is populated so
// subsequent reads by canonicalID transparently follow to the new physical
// thread. Returns the new physical thread id.
func (s *Store) Compact(ctx context.Context, canonicalID string, newEvents []Event, reason string) (string, error) {
	newPhysical := s.GenerateThreadID()

	if err := s.backing.SaveThread(ctx, newPhysical); err != nil {
		return "", err
	}

	appended := make([]Event, 0, len(newEvents))
	for _, e := range newEvents {
		seq, err := s.backing.AppendEvent(ctx, newPhysical, string(e.Type), e.Data)
		if err != nil {
			return "", err
		}
		e.ThreadID = newPhysical
		e.Seq = seq
		appended = append(appended, e)
	}

	if err := s.backing.CreateVersion(ctx, canonicalID, newPhysical, reason); err != nil {
		return "", err
	}

	s.putCache(newPhysical, &Thread{ID: newPhysical, Events: appended})
	logger.G(ctx).WithField("canonical_id", canonicalID).WithField("new_physical", newPhysical).WithField("reason", reason).Info("thread store: compacted")
	return newPhysical, nil
}

// Invalidate drops physical from the in-memory cache, forcing the next
// GetOrLoad to reload from the backing store. Used when an external writer
// (e.g. another process sharing the store file) may have mutated it; see
// StoreWatcher in pkg/session.
func (s *Store) Invalidate(physical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, physical)
}

// InvalidateAll drops every cached thread, forcing subsequent reads to go
// through Persistence. Used when an external writer's scope is unknown
// (e.g. a raw file-level write notification on the shared store file).
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Thread)
}
