package stripe

import (
	"sync"
)

// lockEntry is the mutex of one key plus the number of callers holding or
// waiting for it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// LockManager manages per-customer locks so webhook events and account
// changes of the same customer are applied one at a time, while different
// customers proceed in parallel.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock of the given key, usually a Stripe customer id or a
// local user id. The returned function releases it.
func (lm *LockManager) Lock(key string) func() {
	lm.mu.Lock()
	entry, ok := lm.locks[key]
	if !ok {
		entry = &lockEntry{}
		lm.locks[key] = entry
	}
	// counted before blocking, so CleanupLocks keeps the entry of waiters
	entry.refs++
	lm.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		lm.mu.Lock()
		entry.refs--
		lm.mu.Unlock()
	}
}

// CleanupLocks removes the locks nobody holds or waits for.
func (lm *LockManager) CleanupLocks() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for key, entry := range lm.locks {
		if entry.refs == 0 {
			delete(lm.locks, key)
		}
	}
}

// size returns the number of tracked keys.
func (lm *LockManager) size() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}

// refs returns the number of holders and waiters of key.
func (lm *LockManager) refs(key string) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if entry, ok := lm.locks[key]; ok {
		return entry.refs
	}
	return 0
}
