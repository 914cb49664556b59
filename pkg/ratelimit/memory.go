package ratelimit

import (
	"context"
	"sync"
)

// MemoryBucketStore keeps buckets in process memory. fn runs outside the
// lock, so concurrent updates of one key race and the loser gets
// ErrConflict exactly like with a remote store.
type MemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[Key]State
}

// NewMemoryBucketStore creates an empty store
func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[Key]State)}
}

func (m *MemoryBucketStore) Update(ctx context.Context, key Key, fn func(current *State) (*State, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	st, exists := m.buckets[key]
	m.mu.Unlock()

	var current *State
	if exists {
		current = &st
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	latest, stillExists := m.buckets[key]
	if stillExists != exists || (exists && latest.Version != st.Version) {
		return ErrConflict
	}
	written := *next
	written.Version = st.Version + 1
	m.buckets[key] = written
	return nil
}

// Get returns the stored state of key
func (m *MemoryBucketStore) Get(key Key) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.buckets[key]
	return st, ok
}
