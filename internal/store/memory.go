package store

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
)

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store guarded by a single mutex
type Memory[T any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[T]
	clock   clock.Clock
}

// NewMemory creates an empty in-memory store
func NewMemory[T any](c clock.Clock) *Memory[T] {
	if c == nil {
		c = clock.System{}
	}
	return &Memory[T]{
		entries: make(map[string]memoryEntry[T]),
		clock:   c,
	}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	entry, ok := m.entries[key]
	if !ok {
		return zero, false, nil
	}
	if entry.expired(m.clock.Now()) {
		delete(m.entries, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(key, value, ttl)
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory[T]) Update(_ context.Context, key string, fn UpdateFunc[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current T
	entry, found := m.entries[key]
	if found && entry.expired(m.clock.Now()) {
		delete(m.entries, key)
		found = false
	}
	if found {
		current = entry.value
	}

	mutation := fn(current, found)
	if mutation.Delete {
		delete(m.entries, key)
		return nil
	}
	m.put(key, mutation.Value, mutation.TTL)
	return nil
}

func (m *Memory[T]) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries, expired ones included
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// put must be called with mu held
func (m *Memory[T]) put(key string, value T, ttl time.Duration) {
	entry := memoryEntry[T]{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = entry
}
