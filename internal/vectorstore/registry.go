package vectorstore

import "sync"

// Scope identifies one user's conversation. It selects exactly one Store.
type Scope struct {
	UserID         string
	ConversationID string
}

// Registry maps scopes to their stores. It is created once at process start
// and lives as long as the process; stores are never evicted.
type Registry struct {
	mu        sync.Mutex
	dimension int
	stores    map[Scope]*Store
}

func NewRegistry(dimension int) *Registry {
	return &Registry{
		dimension: dimension,
		stores:    make(map[Scope]*Store),
	}
}

// GetOrCreate returns the store for scope, creating it on first access.
// Concurrent first accesses for the same scope observe the same instance.
func (r *Registry) GetOrCreate(scope Scope) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[scope]; ok {
		return s
	}
	s := New(r.dimension)
	r.stores[scope] = s
	return s
}

// Lookup returns the store for scope without creating one.
func (r *Registry) Lookup(scope Scope) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[scope]
	return s, ok
}

// Len is the number of scopes with a store.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

func (r *Registry) Dimension() int {
	return r.dimension
}
