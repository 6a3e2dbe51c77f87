package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MemStore is an in-memory Store guarded by a RWMutex. It backs projects
// configured with the "memory" base kind and is the workhorse of unit tests.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data: map[string][]byte{},
	}
}

// Get implements Store. The returned slice is a copy; callers may modify it.
func (m *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	ret := make([]byte, len(value))
	copy(ret, value)
	return ret, nil
}

// Put implements Store. The value is copied before storing.
func (m *MemStore) Put(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = stored
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return errors.Wrap(ErrNotFound, key)
	}
	delete(m.data, key)
	return nil
}

// ListKeys implements Store.
func (m *MemStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := []string{}
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			ret = append(ret, key)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

// Assert MemStore implements Store.
var _ Store = (*MemStore)(nil)
