package blob

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps blobs in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]WorldBlob
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]WorldBlob)}
}

func (m *MemoryStore) Get(ctx context.Context, worldID string) (*WorldBlob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	b.Data = slices.Clone(b.Data)
	return &b, nil
}

func (m *MemoryStore) Put(ctx context.Context, b *WorldBlob) error {
	if err := validate(b); err != nil {
		return err
	}
	stored := *b
	stored.Data = slices.Clone(b.Data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[b.WorldID] = stored
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, worldID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[worldID]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, worldID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, tenantID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []Info
	for _, b := range m.blobs {
		if tenantID == "" || b.TenantID == tenantID {
			infos = append(infos, b.Info())
		}
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := strings.Compare(a.TenantID, b.TenantID); c != 0 {
			return c
		}
		return strings.Compare(a.WorldID, b.WorldID)
	})
	return infos, nil
}
