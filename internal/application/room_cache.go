package application

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// roomCache keeps recently read rooms so that the catalog's existence and
// active checks do not hit the store on every booking. Entries expire after
// ttl and the whole cache is purged whenever the catalog changes.
//
// A read that started before a purge must not repopulate the cache, so
// callers take a Generation before reading the store and hand it back to
// StoreIfCurrent.
type roomCache struct {
	mu         sync.Mutex
	generation uint64
	entries    *expirable.LRU[string, Room]
}

func newRoomCache(ttl time.Duration, maxEntries int) *roomCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	return &roomCache{entries: expirable.NewLRU[string, Room](maxEntries, nil, ttl)}
}

func (c *roomCache) Get(id string) (Room, bool) {
	if c == nil {
		return Room{}, false
	}
	room, ok := c.entries.Get(id)
	if !ok {
		return Room{}, false
	}
	return cloneRoom(room), true
}

func (c *roomCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// StoreIfCurrent caches room unless the cache was invalidated after
// generation was taken. It reports whether the room was stored.
func (c *roomCache) StoreIfCurrent(room Room, generation uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	c.entries.Add(room.ID, cloneRoom(room))
	return true
}

func (c *roomCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.Purge()
}

func (c *roomCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func cloneRoom(room Room) Room {
	room.Features = slices.Clone(room.Features)
	return room
}
