package search

import (
	"sync"
)

// Registry holds one index per world, created on first use
type Registry struct {
	mu      sync.Mutex
	factory func() Index
	indexes map[string]*entry
}

type entry struct {
	index  Index
	loaded bool
}

// NewRegistry creates a registry; factory builds a fresh Index, nil means MemoryIndex
func NewRegistry(factory func() Index) *Registry {
	if factory == nil {
		factory = func() Index { return NewMemoryIndex() }
	}
	return &Registry{factory: factory, indexes: make(map[string]*entry)}
}

// Get returns the world's index, creating an empty one if needed
func (r *Registry) Get(world string) Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.indexes[world]
	if !ok {
		e = &entry{index: r.factory()}
		r.indexes[world] = e
	}
	return e.index
}

// Loaded reports whether the world's index was bootstrapped from its blob
func (r *Registry) Loaded(world string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.indexes[world]
	return ok && e.loaded
}

// MarkLoaded records a completed bootstrap
func (r *Registry) MarkLoaded(world string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.indexes[world]
	if !ok {
		e = &entry{index: r.factory()}
		r.indexes[world] = e
	}
	e.loaded = true
}

// Drop forgets the world's index; the next Get starts empty and unloaded
func (r *Registry) Drop(world string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, world)
}

// Worlds lists worlds with an index
func (r *Registry) Worlds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.indexes))
	for w := range r.indexes {
		out = append(out, w)
	}
	return out
}
