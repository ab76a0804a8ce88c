package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. When MaxItems is set, the
// oldest entries are dropped once the cap is exceeded.
type MemoryStore struct {
	MaxItems int

	mu    sync.RWMutex
	items map[string]Entry
}

func NewMemoryStore(maxItems int) *MemoryStore {
	return &MemoryStore{MaxItems: maxItems, items: make(map[string]Entry)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[key]
	return e, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]Entry)
	}
	m.items[e.Key] = e
	for m.MaxItems > 0 && len(m.items) > m.MaxItems {
		oldest := ""
		for k, v := range m.items {
			if oldest == "" || v.StoredAt.Before(m.items[oldest].StoredAt) {
				oldest = k
			}
		}
		delete(m.items, oldest)
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryStore) Close() error { return nil }
