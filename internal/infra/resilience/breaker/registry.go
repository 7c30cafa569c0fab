package breaker

import (
	"sort"
	"sync"
	"time"
)

// Registry holds one breaker per operation name, created on first use.
type Registry struct {
	mu            sync.Mutex
	defaults      Config
	breakers      map[string]*CircuitBreaker
	now           func() time.Time
	onStateChange StateChangeFunc
}

// NewRegistry creates a registry whose breakers use defaults unless a
// per-call config is given.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
		now:      time.Now,
	}
}

// SetClock sets the time source for breakers created afterwards.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	for _, cb := range r.breakers {
		cb.SetClock(now)
	}
}

// SetStateChangeCallback is applied to every breaker in the registry.
func (r *Registry) SetStateChangeCallback(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
	for _, cb := range r.breakers {
		cb.SetStateChangeCallback(fn)
	}
}

// Get returns the breaker for name, creating it with cfg (or the registry
// defaults when cfg is nil). The config only applies on creation.
func (r *Registry) Get(name string, cfg *Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	c := r.defaults
	if cfg != nil {
		c = *cfg
	}
	cb := New(name, c)
	cb.now = r.now
	cb.onStateChange = r.onStateChange
	r.breakers[name] = cb
	return cb
}

// Lookup returns an existing breaker.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Remove drops the named breaker. It reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.breakers[name]
	delete(r.breakers, name)
	return ok
}

// Statuses returns a snapshot of every breaker, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the named breaker. It reports whether it existed.
func (r *Registry) Reset(name string) bool {
	cb, ok := r.Lookup(name)
	if ok {
		cb.Reset()
	}
	return ok
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()
	for _, cb := range list {
		cb.Reset()
	}
}
