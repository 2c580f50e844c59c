package assignment

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// lruCache is a fixed-size LRU keyed "erc:<version>:<user>". Entries are
// never invalidated in place: a new snapshot version implies a new key.
type lruCache struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key     string
	version uint64
	roles   []uuid.UUID
}

func newLRUCache(max int) *lruCache {
	if max <= 0 {
		max = 4096
	}
	return &lruCache{max: max, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *lruCache) get(key string) ([]uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).roles, true
}

func (c *lruCache) put(key string, roles []uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*lruEntry).roles = roles
		return
	}
	var version uint64
	_, _ = fmt.Sscanf(key, "erc:%d:", &version)
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, version: version, roles: roles})
	for c.ll.Len() > c.max {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lruCache) sweepBelow(minVersion uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*lruEntry)
		if entry.version < minVersion {
			c.ll.Remove(el)
			delete(c.items, entry.key)
			removed++
		}
		el = prev
	}
	return removed
}
