package application

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// roomLocks serializes ledger writes per room. Each room gets its own
// weight-one semaphore, created on first use and dropped once no caller holds
// or waits for it, so rooms never contend with each other.
type roomLocks struct {
	mu      sync.Mutex
	entries map[string]*roomLockEntry
}

type roomLockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{entries: make(map[string]*roomLockEntry)}
}

// acquire blocks until the room's lock is held or ctx ends. The returned
// release func is safe to call more than once.
func (l *roomLocks) acquire(ctx context.Context, roomID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[roomID]
	if !ok {
		entry = &roomLockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[roomID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.unref(roomID, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.unref(roomID, entry)
		})
	}, nil
}

func (l *roomLocks) unref(roomID string, entry *roomLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && l.entries[roomID] == entry {
		delete(l.entries, roomID)
	}
}

// partitions reports how many rooms currently have a lock in use.
func (l *roomLocks) partitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
