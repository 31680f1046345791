// Package cache implements a small LRU cache with per-entry TTL. The loader
// uses it to keep compiled module programs keyed by script content hash, so
// re-loading an unchanged module skips recompilation while the script text
// itself is still fetched fresh on every load.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key        string
	value      interface{}
	expiration time.Time
}

// LRUCache is a thread-safe fixed-capacity LRU cache with TTL expiry.
type LRUCache struct {
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
	ttl       time.Duration
	mu        sync.Mutex
}

// New creates an LRU cache holding at most capacity entries, each valid for ttl.
func New(capacity int, ttl time.Duration) *LRUCache {
	return &LRUCache{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		ttl:       ttl,
	}
}

// Get returns the cached value for key, or false when absent or expired.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	e := elem.Value.(*entry)
	if time.Now().After(e.expiration) {
		c.removeElement(elem)
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	return e.value, true
}

// Set stores value under key, refreshing TTL and recency. The oldest entry
// is evicted when the cache is full.
func (c *LRUCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiration := time.Now().Add(c.ttl)

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiration = expiration
		c.evictList.MoveToFront(elem)
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key: key, value: value, expiration: expiration})

	if c.evictList.Len() > c.capacity {
		if oldest := c.evictList.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes key from the cache.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of entries currently held, including expired ones
// not yet cleaned.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// CleanExpired removes all expired entries.
func (c *LRUCache) CleanExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for elem := c.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).expiration) {
			c.removeElement(elem)
		}
		elem = prev
	}
}

// StartCleanup periodically removes expired entries until ctx is done.
func (c *LRUCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CleanExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// removeElement drops an entry. Caller must hold the mutex.
func (c *LRUCache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
