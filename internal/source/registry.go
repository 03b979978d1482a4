package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Registry holds the adapters available to a dispatcher. One adapter is
// registered per SourceKind.
type Registry struct {
	mu       sync.RWMutex
	adapters map[investigation.SourceKind]Adapter
}

// NewRegistry creates a registry pre-populated with adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[investigation.SourceKind]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Registering a second adapter for the same kind
// is an error.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.Kind() == "" {
		return fmt.Errorf("source: adapter must declare a kind")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.adapters[a.Kind()]; ok {
		return fmt.Errorf("source: kind %q already registered by %s", a.Kind(), existing.Name())
	}
	r.adapters[a.Kind()] = a
	return nil
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind investigation.SourceKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []investigation.SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]investigation.SourceKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Select resolves the adapters for a request. An empty request selects every
// registered adapter. Requested kinds with no adapter are returned in missing.
func (r *Registry) Select(requested []investigation.SourceKind) (selected []Adapter, missing []investigation.SourceKind) {
	if len(requested) == 0 {
		requested = r.Kinds()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, k := range requested {
		if a, ok := r.adapters[k]; ok {
			selected = append(selected, a)
		} else {
			missing = append(missing, k)
		}
	}
	return selected, missing
}
