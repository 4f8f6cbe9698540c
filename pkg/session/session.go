// Package session implements the Session Manager (C8): a session is
// itself a thread, and its agents' threads are child ids (sessionId.N).
// Session and agent metadata (names, provider/model pairings, lifecycle
// status) is cached in memory and mirrored into pkg/store so a process
// restart can reconstruct the roster instead of starting over.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/thread"
	"github.com/laceai/lace/pkg/toolexec"
)

// ErrNotFound is returned by lookups that fail to find a session or agent.
var ErrNotFound = errors.New("session: not found")

// ErrDuplicateName is returned by AddAgent when name already exists in the
// session: a name must be unique within a session.
var ErrDuplicateName = errors.New("session: agent name already exists in session")

// AgentStatus is an agent's lifecycle state within a session.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
	AgentCompleted AgentStatus = "completed"
)

// AgentMeta describes one agent registered within a session.
type AgentMeta struct {
	Name        string
	ThreadID    string // sessionId.N
	Provider    string
	Model       string
	Status      AgentStatus
	Ephemeral   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Session is the root thread grouping a set of agents.
type Session struct {
	ID        string // canonical thread id
	Name      string
	CreatedAt time.Time
}

// AgentFilter narrows ListAgents' results. A zero-value filter matches
// every non-completed agent (completed agents are hidden by default).
type AgentFilter struct {
	IncludeCompleted bool
	Status           AgentStatus // "" means any
}

type sessionState struct {
	session     Session
	agents      map[string]*AgentMeta // keyed by name
	activeAgent string
}

// Manager is the Session Manager (C8). It is safe for concurrent use.
type Manager struct {
	threads *thread.Store
	store   *store.Store

	mu       sync.Mutex
	sessions map[string]*sessionState // keyed by session (canonical) id
	byName   map[string]string        // session name -> session id
}

// New constructs a Manager backed by threads for session conversation
// history and backing for the durable session/agent roster.
func New(threads *thread.Store, backing *store.Store) *Manager {
	return &Manager{
		threads:  threads,
		store:    backing,
		sessions: make(map[string]*sessionState),
		byName:   make(map[string]string),
	}
}

// CreateSession creates a new session thread named name and registers it.
func (m *Manager) CreateSession(ctx context.Context, name string) (Session, error) {
	m.mu.Lock()
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		return Session{}, errors.Errorf("session: name %q already in use", name)
	}
	m.mu.Unlock()

	id := m.threads.GenerateThreadID()
	if _, err := m.threads.Append(ctx, id, thread.EventLocalSystem, thread.NewLocalSystemMessage("session created: "+name)); err != nil {
		return Session{}, errors.Wrap(err, "session: creating session thread")
	}

	if _, err := m.store.CreateSession(ctx, id, name); err != nil {
		return Session{}, errors.Wrap(err, "session: persisting session")
	}

	sess := Session{ID: id, Name: name, CreatedAt: time.Now().UTC()}

	m.mu.Lock()
	m.sessions[id] = &sessionState{session: sess, agents: make(map[string]*AgentMeta)}
	m.byName[name] = id
	m.mu.Unlock()

	return sess, nil
}

// LoadSession resolves id (or a session name) to its Session, hydrating
// from the store if this process has not seen it yet.
func (m *Manager) LoadSession(ctx context.Context, id string) (Session, error) {
	st, err := m.hydrate(ctx, id)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return st.session, nil
}

// hydrate returns the cached sessionState for sessionID (or its name),
// loading it from the store on a cache miss. The store is the source of
// truth across restarts; the cache just avoids a round trip on every call.
func (m *Manager) hydrate(ctx context.Context, sessionID string) (*sessionState, error) {
	m.mu.Lock()
	if sid, ok := m.byName[sessionID]; ok {
		sessionID = sid
	}
	if st, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	row, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "session: loading session from store")
	}
	agentRows, err := m.store.ListSessionAgents(ctx, row.ID)
	if err != nil {
		return nil, errors.Wrap(err, "session: loading agents from store")
	}

	st := &sessionState{
		session:     Session{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt},
		agents:      make(map[string]*AgentMeta, len(agentRows)),
		activeAgent: row.ActiveAgent,
	}
	for _, ar := range agentRows {
		st.agents[ar.Name] = &AgentMeta{
			Name:        ar.Name,
			ThreadID:    ar.ThreadID,
			Provider:    ar.Provider,
			Model:       ar.Model,
			Status:      AgentStatus(ar.Status),
			Ephemeral:   ar.Ephemeral,
			CreatedAt:   ar.CreatedAt,
			CompletedAt: ar.CompletedAt,
		}
	}

	m.mu.Lock()
	m.sessions[row.ID] = st
	m.byName[row.Name] = row.ID
	m.mu.Unlock()
	return st, nil
}

// AddAgent registers a new agent within sessionID, assigning it the next
// child thread id (sessionId.N). meta.Name must be unique within the
// session. The child index is minted by the store so it stays unique even
// if this agent's registration is the first one this process has seen for
// an existing session.
func (m *Manager) AddAgent(ctx context.Context, sessionID string, meta AgentMeta) (AgentMeta, error) {
	st, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return AgentMeta{}, err
	}

	m.mu.Lock()
	if _, exists := st.agents[meta.Name]; exists {
		m.mu.Unlock()
		return AgentMeta{}, ErrDuplicateName
	}
	st.agents[meta.Name] = &AgentMeta{Name: meta.Name} // reserve the name
	m.mu.Unlock()

	unreserve := func() {
		m.mu.Lock()
		delete(st.agents, meta.Name)
		m.mu.Unlock()
	}

	next, err := m.store.NextChildIndex(ctx, st.session.ID)
	if err != nil {
		unreserve()
		return AgentMeta{}, errors.Wrap(err, "session: minting child thread id")
	}
	meta.ThreadID = fmt.Sprintf("%s.%d", st.session.ID, next)
	meta.Status = AgentActive
	meta.CreatedAt = time.Now().UTC()

	if _, err := m.threads.Append(ctx, meta.ThreadID, thread.EventLocalSystem, thread.NewLocalSystemMessage("agent registered: "+meta.Name)); err != nil {
		unreserve()
		return AgentMeta{}, errors.Wrap(err, "session: initializing agent thread")
	}

	if _, err := m.store.CreateSessionAgent(ctx, store.SessionAgentRow{
		SessionID: st.session.ID,
		Name:      meta.Name,
		ThreadID:  meta.ThreadID,
		Provider:  meta.Provider,
		Model:     meta.Model,
		Ephemeral: meta.Ephemeral,
	}); err != nil {
		unreserve()
		return AgentMeta{}, errors.Wrap(err, "session: persisting agent")
	}

	m.mu.Lock()
	st.agents[meta.Name] = &meta
	setActive := st.activeAgent == ""
	if setActive {
		st.activeAgent = meta.Name
	}
	m.mu.Unlock()

	if setActive {
		if err := m.store.SetActiveAgent(ctx, st.session.ID, meta.Name); err != nil {
			return AgentMeta{}, errors.Wrap(err, "session: persisting active agent")
		}
	}

	return meta, nil
}

// GetActiveAgent returns the session's currently active agent.
func (m *Manager) GetActiveAgent(ctx context.Context, sessionID string) (AgentMeta, error) {
	st, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return AgentMeta{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.activeAgent == "" {
		return AgentMeta{}, ErrNotFound
	}
	a, ok := st.agents[st.activeAgent]
	if !ok {
		return AgentMeta{}, ErrNotFound
	}
	return *a, nil
}

// SetActiveAgent changes which agent is active within the session.
func (m *Manager) SetActiveAgent(ctx context.Context, sessionID, name string) error {
	st, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := st.agents[name]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	st.activeAgent = name
	m.mu.Unlock()

	return errors.Wrap(m.store.SetActiveAgent(ctx, st.session.ID, name), "session: persisting active agent")
}

// ListAgents returns every agent in the session matching filter, sorted by
// name for deterministic output.
func (m *Manager) ListAgents(ctx context.Context, sessionID string, filter AgentFilter) ([]AgentMeta, error) {
	st, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentMeta, 0, len(st.agents))
	for _, a := range st.agents {
		if a.Status == AgentCompleted && !filter.IncludeCompleted {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Manager) transition(ctx context.Context, sessionID, name string, to AgentStatus) error {
	st, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	a, ok := st.agents[name]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	a.Status = to
	clearActive := false
	if to == AgentCompleted {
		now := time.Now().UTC()
		a.CompletedAt = &now
		if st.activeAgent == name {
			st.activeAgent = ""
			clearActive = true
		}
	}
	m.mu.Unlock()

	if err := m.store.UpdateSessionAgentStatus(ctx, st.session.ID, name, store.AgentStatus(to)); err != nil {
		return errors.Wrap(err, "session: persisting agent status")
	}
	if clearActive {
		if err := m.store.SetActiveAgent(ctx, st.session.ID, ""); err != nil {
			return errors.Wrap(err, "session: clearing active agent")
		}
	}
	return nil
}

// SuspendAgent marks name as suspended; its thread is retained and it may
// later be resumed.
func (m *Manager) SuspendAgent(ctx context.Context, sessionID, name string) error {
	return m.transition(ctx, sessionID, name, AgentSuspended)
}

// ResumeAgent marks a suspended agent active again.
func (m *Manager) ResumeAgent(ctx context.Context, sessionID, name string) error {
	return m.transition(ctx, sessionID, name, AgentActive)
}

// CompleteAgent marks name completed; completed agents are hidden from
// ListAgents by default.
func (m *Manager) CompleteAgent(ctx context.Context, sessionID, name string) error {
	return m.transition(ctx, sessionID, name, AgentCompleted)
}

// ArchiveCompletedAgents drops the metadata (not the underlying thread,
// which Persistence retains) for every completed agent older than
// olderThan. A zero olderThan archives all completed agents unconditionally.
func (m *Manager) ArchiveCompletedAgents(ctx context.Context, sessionID string, olderThan time.Duration) (int, error) {
	st, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	var toDelete []string
	m.mu.Lock()
	for name, a := range st.agents {
		if a.Status != AgentCompleted || a.CompletedAt == nil {
			continue
		}
		if olderThan > 0 && a.CompletedAt.After(cutoff) {
			continue
		}
		toDelete = append(toDelete, name)
	}
	for _, name := range toDelete {
		delete(st.agents, name)
	}
	m.mu.Unlock()

	for _, name := range toDelete {
		if err := m.store.DeleteSessionAgent(ctx, st.session.ID, name); err != nil {
			return 0, errors.Wrap(err, "session: persisting archive")
		}
	}
	return len(toDelete), nil
}

// SpawnEphemeralAgent creates a new agent in sessionID for the given
// provider/model, honoring the Task Store's "new:<provider>/<model>"
// assignee convention: a task assigned to that pseudo-agent is a request
// to spawn an ephemeral agent of that provider/model and reassign the task
// to it. The returned name is generated, not caller-supplied, since the
// pseudo-assignee carries no name.
func (m *Manager) SpawnEphemeralAgent(ctx context.Context, sessionID, provider, model string) (AgentMeta, error) {
	name := fmt.Sprintf("%s-%s-%d", provider, model, time.Now().UTC().UnixNano())
	return m.AddAgent(ctx, sessionID, AgentMeta{
		Name:      name,
		Provider:  provider,
		Model:     model,
		Ephemeral: true,
	})
}

// AgentSpawner adapts Manager to pkg/task's Spawner interface, which only
// needs the spawned agent's name (the task's new assignee), not the full
// AgentMeta.
type AgentSpawner struct {
	Manager *Manager
}

// SpawnEphemeralAgent implements task.Spawner.
func (a AgentSpawner) SpawnEphemeralAgent(ctx context.Context, sessionID, provider, model string) (string, error) {
	meta, err := a.Manager.SpawnEphemeralAgent(ctx, sessionID, provider, model)
	if err != nil {
		return "", err
	}
	return meta.Name, nil
}

// RestrictedToolset returns registry's tool names minus the agent-spawn and
// delegate tools, for use when constructing an ephemeral agent's Executor:
// ephemeral agents are spawned with a restricted toolset to prevent
// unbounded spawn recursion.
func RestrictedToolset(registry *toolexec.Registry, spawnToolNames ...string) []string {
	return toolexec.Restricted(registry.Names(), spawnToolNames...)
}
