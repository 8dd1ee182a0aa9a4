package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store used by tests and by pagectl dry runs. It
// does not survive restarts.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	logs map[string][][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		logs: make(map[string][][]byte),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Append(_ context.Context, log string, entry []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(entry))
	copy(cp, entry)
	m.logs[log] = append(m.logs[log], cp)
	return nil
}

func (m *Memory) Entries(_ context.Context, log string, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[log]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([][]byte, len(entries))
	for i, entry := range entries {
		cp := make([]byte, len(entry))
		copy(cp, entry)
		out[i] = cp
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
