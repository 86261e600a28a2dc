package breaker

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry holds named breakers so that every caller protecting the same
// downstream dependency shares one circuit. It is injected explicitly
// into the components that need it; there is no package-level default.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults []Option
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaults sets the options applied to every breaker the registry
// creates. Per-breaker options passed to GetOrCreate are applied after
// these and take precedence.
func WithDefaults(opts ...Option) RegistryOption {
	return func(r *Registry) { r.defaults = opts }
}

// WithRegistryLogger sets the logger passed to breakers the registry creates.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the breaker registered under name, creating it with
// the registry defaults plus opts on first use. Options are ignored when
// the breaker already exists.
func (r *Registry) GetOrCreate(name string, opts ...Option) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	all := make([]Option, 0, len(r.defaults)+len(opts)+1)
	all = append(all, WithLogger(r.logger))
	all = append(all, r.defaults...)
	all = append(all, opts...)
	b = New(name, all...)
	r.breakers[name] = b
	return b
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forces the named breaker back to closed. It is a no-op for
// unknown names.
func (r *Registry) Reset(name string) {
	if b, ok := r.Get(name); ok {
		b.Reset()
	}
}

// ResetAll forces every registered breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.RUnlock()

	for _, b := range all {
		b.Reset()
	}
}
