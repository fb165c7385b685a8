package db

import "sync"

// ChangeKind is the type of a pending change.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeUpdate
	ChangeRemove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeUpdate:
		return "update"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is a queued write on a record.
type Change[T any] struct {
	Kind ChangeKind
	Item *T
}

// ChangeSet tracks the pending writes of a record set in the order they were
// requested. Backends read them with Pending and call Commit once they are
// stored.
type ChangeSet[T any] struct {
	mu      sync.Mutex
	changes []Change[T]
}

// Add queues the insertion of item, assigning it an identifier if needed.
func (cs *ChangeSet[T]) Add(item *T) {
	if item == nil {
		return
	}
	ensureID(item)
	cs.push(Change[T]{Kind: ChangeAdd, Item: item})
}

// Update queues a full replacement of item. Updating an item that is still
// pending insertion is folded into the insertion.
func (cs *ChangeSet[T]) Update(item *T) {
	if item == nil {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range cs.changes {
		if c.Item == item && c.Kind == ChangeAdd {
			return
		}
	}
	cs.changes = append(cs.changes, Change[T]{Kind: ChangeUpdate, Item: item})
}

// Remove queues the deletion of item. Removing an item that is still pending
// insertion just drops the insertion.
func (cs *ChangeSet[T]) Remove(item *T) {
	if item == nil {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	kept := cs.changes[:0]
	pendingAdd := false
	for _, c := range cs.changes {
		if c.Item == item {
			if c.Kind == ChangeAdd {
				pendingAdd = true
			}
			continue
		}
		kept = append(kept, c)
	}
	cs.changes = kept
	if !pendingAdd {
		cs.changes = append(cs.changes, Change[T]{Kind: ChangeRemove, Item: item})
	}
}

func (cs *ChangeSet[T]) push(c Change[T]) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.changes = append(cs.changes, c)
}

// Pending returns a copy of the queued changes.
func (cs *ChangeSet[T]) Pending() []Change[T] {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]Change[T](nil), cs.changes...)
}

// Len returns the number of queued changes.
func (cs *ChangeSet[T]) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.changes)
}

// Commit drops the first n changes, which the caller has already stored.
func (cs *ChangeSet[T]) Commit(n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if n >= len(cs.changes) {
		cs.changes = nil
		return
	}
	cs.changes = append([]Change[T](nil), cs.changes[n:]...)
}
