package toolexec

import (
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// GenerateSchema reflects T into a jsonschema.Schema for use as a Tool's
// InputSchema.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Registry holds every Tool known to one process, keyed by name. It is
// populated at startup and only read during turns, protected by a coarse
// lock rather than per-entry locking.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool to the registry, keyed by its own Name().
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Lookup returns the tool registered under name, or an error if unknown.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, errors.Errorf("toolexec: unknown tool %q", name)
	}
	return tool, nil
}

// Names returns every registered tool name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Validate checks that every name in names is registered.
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		if _, err := r.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// Restricted returns a copy of names with the delegate/spawn tool names
// removed, used by the Session Manager to build an ephemeral agent's
// toolset excluding the agent-spawn and delegate tools, which would
// otherwise let a spawned agent spawn further agents unbounded.
func Restricted(names []string, excluded ...string) []string {
	exclude := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		exclude[e] = true
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !exclude[n] {
			out = append(out, n)
		}
	}
	return out
}
