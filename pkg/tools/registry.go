package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps uppercase action names to tools. Planner-emitted action
// names are normalized to uppercase on both register and lookup, so
// READ_FILE and read_file resolve to the same tool.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Tool)}
}

// Register adds a tool under its uppercase name.
func (r *Registry) Register(tool Tool) error {
	name := canonicalName(tool.GetName())
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.items[name] = tool
	return nil
}

// Get returns the tool for an action name, case-insensitively.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.items[canonicalName(name)]
	return tool, ok
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.items))
	for _, tool := range r.items {
		out = append(out, tool)
	}
	return out
}

// Remove deletes a tool from the registry.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := canonicalName(name)
	if _, exists := r.items[key]; !exists {
		return fmt.Errorf("tool %q not found", key)
	}
	delete(r.items, key)
	return nil
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func canonicalName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
