// Package locking provides a per-key mutex used to serialize
// check-then-write sequences scoped to a single tenant.
package locking

import "sync"

// KeyedMutex hands out one mutex per key. Entries are never evicted; the
// map grows with the number of distinct tenants seen by this process, which
// is bounded and small.
//
// This serializes admission control within one process. Deployments running
// multiple instances against a shared store need a database-level advisory
// lock instead.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the mutex for the given key and returns its unlock function.
//
//	unlock := locks.Lock(tenantID)
//	defer unlock()
func (k *KeyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
