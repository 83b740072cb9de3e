package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps records in a map. Nothing survives the process; used
// in development and tests.
type MemoryBackend struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, unavailable("memory get", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, unavailable("memory get", errClosed)
	}
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable("memory set", err)
	}

	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("memory set", errClosed)
	}
	m.items[key] = valueCopy
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("memory delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("memory delete", errClosed)
	}
	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("memory keys", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, unavailable("memory keys", errClosed)
	}
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of records currently held.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close drops every record. Further calls fail with ErrBackendUnavailable.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.items = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}
