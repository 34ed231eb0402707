package backend

import (
	"context"
	"fmt"
	"sync"
)

// Memory implements Store with an in-process map.
// An optional byte quota makes it behave like a constrained device store.
type Memory struct {
	mu       sync.RWMutex
	items    map[string]string
	used     int64
	maxBytes int64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryQuota limits the total bytes (keys plus values) the store accepts.
// Zero disables the quota.
func WithMemoryQuota(maxBytes int64) MemoryOption {
	return func(m *Memory) {
		m.maxBytes = maxBytes
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{items: make(map[string]string)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetItem retrieves the value stored at key.
func (m *Memory) GetItem(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetItem stores value at key.
func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := m.items[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if m.maxBytes > 0 && m.used+delta > m.maxBytes {
		return &CapacityError{
			Op:  "set",
			Err: fmt.Errorf("quota of %d bytes reached (used %d, need %d)", m.maxBytes, m.used, delta),
		}
	}
	m.items[key] = value
	m.used += delta
	return nil
}

// RemoveItem deletes key.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	return nil
}

// AllKeys returns every key in the store.
func (m *Memory) AllKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// MultiRemove deletes all the given keys.
func (m *Memory) MultiRemove(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.removeLocked(k)
	}
	return nil
}

// ItemSize returns the size of the value stored at key.
func (m *Memory) ItemSize(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(v)), nil
}

// Used returns the bytes currently accounted against the quota.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Memory) removeLocked(key string) {
	if old, ok := m.items[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.items, key)
	}
}

// Compile-time interface checks
var (
	_ Store          = (*Memory)(nil)
	_ SizeAwareStore = (*Memory)(nil)
)
