package stripe

import (
	"context"
	"sync"
	"time"
)

// DefaultEventTTL is how long processed webhook events are remembered.
const DefaultEventTTL = 24 * time.Hour

// EventStore remembers the webhook events already processed, so Stripe
// retries of the same event are applied once.
type EventStore interface {
	// MarkProcessed claims eventID. It reports false when the event was
	// already claimed and has not expired.
	MarkProcessed(eventID string) (bool, error)
	// Forget drops the claim of an event whose handling failed, so a retry
	// can apply it.
	Forget(eventID string) error
}

// MemoryEventStore is an in-memory EventStore whose entries expire after a
// TTL.
type MemoryEventStore struct {
	events map[string]time.Time
	mutex  sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryEventStore creates a new in-memory event store. Expired events are
// purged every hour until ctx is done.
func NewMemoryEventStore(ctx context.Context, ttl time.Duration) *MemoryEventStore {
	if ttl == 0 {
		ttl = DefaultEventTTL
	}
	store := &MemoryEventStore{
		events: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.purge()
			}
		}
	}()
	return store
}

// MarkProcessed marks an event as processed, unless it already was.
func (m *MemoryEventStore) MarkProcessed(eventID string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := m.now()
	if processed, exists := m.events[eventID]; exists && now.Sub(processed) <= m.ttl {
		return false, nil
	}
	m.events[eventID] = now
	return true, nil
}

// Forget removes an event from the store.
func (m *MemoryEventStore) Forget(eventID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.events, eventID)
	return nil
}

// processed reports whether the event is stored and has not expired.
func (m *MemoryEventStore) processed(eventID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	at, exists := m.events[eventID]
	return exists && m.now().Sub(at) <= m.ttl
}

func (m *MemoryEventStore) purge() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := m.now()
	for eventID, timestamp := range m.events {
		if now.Sub(timestamp) > m.ttl {
			delete(m.events, eventID)
		}
	}
}

// Size returns the number of stored events
func (m *MemoryEventStore) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.events)
}
