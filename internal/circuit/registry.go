package circuit

import (
	"sort"
	"sync"
)

// Registry holds one independent breaker per Hub endpoint so an outage
// on one endpoint never blocks calls to healthy ones.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a registry; opts apply to every breaker it mints.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// Get returns the breaker for an endpoint, creating it on first use.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[endpoint]
	if !ok {
		b = New(endpoint, r.opts...)
		r.breakers[endpoint] = b
	}
	return b
}

// Snapshots returns the state of every known breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
