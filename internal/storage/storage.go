// Package storage defines the key/value store standing in for browser storage, plus an
// in-memory implementation.
//
// A Storage is one scope (long-lived or short-lived) of one profile. Clear wipes only that
// scope, never keys of other profiles sharing the same backend.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/and161185/agromarket/internal/errs"
)

// Storage is a string key/value store.
type Storage interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear deletes every key of this scope.
	Clear(ctx context.Context) error
}

// Memory is a process-local Storage. The zero value is not usable; call NewMemory.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int // max total bytes of keys+values, 0 = unlimited
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithQuota limits the total size of keys and values, like the browser storage quota.
func WithQuota(bytes int) MemoryOption {
	return func(m *Memory) { m.quota = bytes }
}

// NewMemory constructs an empty in-memory storage.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{data: map[string]string{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements Storage.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Storage. It fails with errs.ErrQuotaExceeded when over quota.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		size := len(key) + len(value)
		for k, v := range m.data {
			if k != key {
				size += len(k) + len(v)
			}
		}
		if size > m.quota {
			return errs.ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

// Remove implements Storage.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Clear implements Storage.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = map[string]string{}
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClearAll clears every storage in order and returns the first error after trying all.
func ClearAll(ctx context.Context, stores ...Storage) error {
	var first error
	for _, s := range stores {
		if s == nil {
			continue
		}
		if err := s.Clear(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
