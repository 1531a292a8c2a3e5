// Package cache implements a bounded TTL cache mapping URL to response
// body. The bound is measured in bytes of cached body, not entry count;
// eviction is least-recently-updated once the byte bound is exceeded,
// and entries also expire after their TTL. Reading a cached entry never
// refreshes its recency or its TTL.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	url       string
	body      []byte
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a bounded, TTL'd, least-recently-updated response cache.
type Cache struct {
	maxBytes int64
	ttl      time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // front = most recently updated
	curBytes int64
}

// New builds a Cache bounded to maxBytes of cumulative body size, with
// entries expiring after ttl.
func New(maxBytes int64, ttl time.Duration) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ttl:      ttl,
		entries:  make(map[string]*entry),
		order:    list.New(),
	}
}

// Get returns the cached body for url, if present and not expired.
func (c *Cache) Get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	return e.body, true
}

// Put inserts or updates url's cached body, evicting least-recently-updated
// entries until the byte bound is satisfied.
func (c *Cache) Put(url string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[url]; ok {
		c.curBytes -= int64(len(e.body))
		c.order.Remove(e.elem)
		delete(c.entries, url)
	}

	e := &entry{url: url, body: body, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[url] = e
	c.curBytes += int64(len(body))

	for c.curBytes > c.maxBytes && c.order.Len() > 0 {
		oldest := c.order.Back()
		c.removeLocked(oldest.Value.(*entry))
	}
}

// removeLocked removes an entry; caller must hold c.mu. Callers holding a
// *list.Element pass its Value.(*entry).
func (c *Cache) removeLocked(e *entry) {
	c.curBytes -= int64(len(e.body))
	c.order.Remove(e.elem)
	delete(c.entries, e.url)
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the current cumulative cached body size.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
