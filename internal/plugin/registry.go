package plugin

import (
	"sync"

	"github.com/coreagent/platform/internal/coreerr"
)

// Kind enumerates the component kinds a plugin may register.
type Kind string

const (
	KindAction             Kind = "action"
	KindCommand            Kind = "command"
	KindPlusCommand        Kind = "plus_command"
	KindTool               Kind = "tool"
	KindEventHandler       Kind = "event_handler"
	KindInterestCalculator Kind = "interest_calculator"
	KindPrompt             Kind = "prompt"
)

type componentKey struct {
	kind Kind
	name string
}

// Registry holds every live component, keyed by (kind, name), owned by
// the plugin that registered it. Registration and lookup both happen
// under a single RWMutex: registration is rare (plugin load/unload),
// lookup is on the hot path of every envelope dispatch.
type Registry struct {
	mu         sync.RWMutex
	components map[componentKey]any
	owner      map[componentKey]string // plugin name
	byPlugin   map[string][]componentKey
}

// NewRegistry constructs an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[componentKey]any),
		owner:      make(map[componentKey]string),
		byPlugin:   make(map[string][]componentKey),
	}
}

// Register adds a component under (kind, name), attributed to
// pluginName. A second registration under the same key, even from a
// different plugin, is rejected with coreerr.DuplicateComponent.
func (r *Registry) Register(pluginName string, kind Kind, name string, component any) error {
	key := componentKey{kind: kind, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[key]; exists {
		return &coreerr.DuplicateComponent{Kind: string(kind), Name: name}
	}
	r.components[key] = component
	r.owner[key] = pluginName
	r.byPlugin[pluginName] = append(r.byPlugin[pluginName], key)
	return nil
}

// Get looks up a component by kind and name.
func (r *Registry) Get(kind Kind, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[componentKey{kind: kind, name: name}]
	return c, ok
}

// List returns every registered component of a kind.
func (r *Registry) List(kind Kind) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any)
	for k, v := range r.components {
		if k.kind == kind {
			out[k.name] = v
		}
	}
	return out
}

// UnregisterPlugin removes every component owned by pluginName, used
// when a plugin is disabled or unloaded.
func (r *Registry) UnregisterPlugin(pluginName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.byPlugin[pluginName] {
		delete(r.components, key)
		delete(r.owner, key)
	}
	delete(r.byPlugin, pluginName)
}

// Owner returns which plugin registered a component, if any.
func (r *Registry) Owner(kind Kind, name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owner[componentKey{kind: kind, name: name}]
	return owner, ok
}
