// Package keylock provides per-key mutual exclusion with a registry that
// only holds entries for keys that are currently locked or awaited.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager hands out exclusive locks keyed by K. Entries are created on first
// use and removed once the last holder or waiter lets go, so the registry
// never grows past the number of in-flight lock users.
type Manager[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty Manager.
func New[K comparable]() *Manager[K] {
	return &Manager[K]{entries: make(map[K]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done. On success the
// returned func releases the lock; calling it more than once is a no-op.
func (m *Manager[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := m.ref(key)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.unref(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.unref(key, e)
		})
	}, nil
}

// Len reports how many keys currently have a holder or waiter.
func (m *Manager[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager[K]) ref(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager[K]) unref(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
