package tool

import (
	"fmt"
	"sync"

	"github.com/petal-labs/nighthawk/core"
)

// Registry is an ordered map of tool names to tools. Clone gives scopes
// their own copy so registrations never leak between siblings.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools in the given order.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.put(t)
	}
	return r
}

var global = NewRegistry()

// Global returns the process-wide registry.
func Global() *Registry { return global }

// Register adds t. An existing name is an error unless overwrite is set.
func (r *Registry) Register(t Tool, overwrite bool) error {
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists && !overwrite {
		return &core.ToolRegistrationError{
			Name:    t.Name,
			Message: fmt.Sprintf("tool %q is already registered", t.Name),
		}
	}
	r.put(t)
	return nil
}

func (r *Registry) put(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return NewRegistry()
	}
	return NewRegistry(r.Tools()...)
}

// Merge layers registries: tools in later registries replace earlier ones
// of the same name while keeping the first-seen position.
func Merge(layers ...*Registry) []Tool {
	merged := NewRegistry()
	for _, layer := range layers {
		for _, t := range layer.Tools() {
			merged.put(t)
		}
	}
	return merged.Tools()
}
