package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Permission gates handler execution.
type Permission int

const (
	// PermissionNone runs without asking.
	PermissionNone Permission = iota
	// PermissionConfirm requires operator confirmation before the handler runs.
	PermissionConfirm
)

// Handler executes one registered command.
type Handler func(ctx context.Context, args []string) Result

// Entry is one registered command: a tagged record resolved through a
// typed lookup, never reflection.
type Entry struct {
	Name               string
	Help               string
	RequiredPermission Permission
	Handler            Handler
}

// Registry holds the dispatchable command table. Names are stored
// uppercase; lookups are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an entry. Duplicate names and nil handlers are errors.
func (r *Registry) Register(e Entry) error {
	name := strings.ToUpper(strings.TrimSpace(e.Name))
	if name == "" {
		return fmt.Errorf("command name required")
	}
	if e.Handler == nil {
		return fmt.Errorf("command %s has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("command %s already registered", name)
	}
	e.Name = name
	r.entries[name] = e
	return nil
}

// Lookup resolves a command name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToUpper(strings.TrimSpace(name))]
	return e, ok
}

// Entries returns all registered commands sorted by name, for HELP output.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
