// ABOUTME: In-memory SettingsStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory SettingsStore implementation for testing.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Setting
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]Setting)}
}

// GetSetting returns the value for key.
func (m *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return st.Value, nil
}

// SetSetting stores the value for key.
func (m *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// DeleteSetting removes key.
func (m *MemoryStore) DeleteSetting(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settings[key]; !ok {
		return ErrNotFound
	}
	delete(m.settings, key)
	return nil
}

// ListSettings returns all settings ordered by key.
func (m *MemoryStore) ListSettings(ctx context.Context) ([]Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Setting, 0, len(m.settings))
	for _, st := range m.settings {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ SettingsStore = (*MemoryStore)(nil)
