package fetchcache

import "sync"

// invalidator is the registry's view of one engine: enough to sweep it
// without knowing its value type.
type invalidator interface {
	InvalidateAll(onlyRejected bool)
}

// Registry is an append-only list of engines, usually one per process. It
// exists so a single call can reset every cache created anywhere in the
// process. Tests construct their own Registry for isolation.
type Registry struct {
	mu      sync.Mutex
	engines []invalidator
}

func NewRegistry() *Registry { return &Registry{} }

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry New registers engines
// with unless Options.Unregistered is set.
func DefaultRegistry() *Registry { return defaultRegistry }

func (r *Registry) add(e invalidator) {
	r.mu.Lock()
	r.engines = append(r.engines, e)
	r.mu.Unlock()
}

// InvalidateAll applies Cache.InvalidateAll to every registered engine.
// With onlyRejected, only entries currently holding a fetch error are swept.
func (r *Registry) InvalidateAll(onlyRejected bool) {
	r.mu.Lock()
	engines := append([]invalidator(nil), r.engines...)
	r.mu.Unlock()
	for _, e := range engines {
		e.InvalidateAll(onlyRejected)
	}
}

// InvalidateAll resets every cache registered with the default registry.
func InvalidateAll(onlyRejected bool) {
	defaultRegistry.InvalidateAll(onlyRejected)
}
