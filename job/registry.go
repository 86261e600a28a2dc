package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased handler taking the raw JSON payload. A
// typed Definition[T] becomes a HandlerFunc at registration by closing
// over the unmarshal step.
type HandlerFunc func(ctx context.Context, payload []byte) error

// registration pairs a handler with the defaults its definition carried.
type registration struct {
	handler  HandlerFunc
	defaults Options
}

// Registry maps job names to handlers and their enqueue defaults. Safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// RegisterDefinition registers a typed definition. The payload is
// unmarshalled into T before the typed handler runs; the definition's
// options become the enqueue defaults for this job name.
//
// Package-level because Go has no generic methods.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	wrapped := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = registration{handler: wrapped, defaults: def.Opts}
}

// Get returns the handler registered under name, or false.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// DefaultsFor returns the enqueue defaults registered under name, or
// DefaultOptions() for unknown names.
func (r *Registry) DefaultsFor(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.defaults
	}
	return DefaultOptions()
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
