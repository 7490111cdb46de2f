// Package ttlcache provides a small in-process TTL cache used for token
// validation results and permission evaluations.
//
// Lookups never fail: an expired or missing entry is reported as a miss, and
// eviction happens lazily on read plus via the periodic [Cache.Sweep].
package ttlcache

import (
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a string-keyed TTL cache safe for concurrent use.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	clock   func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache whose entries live for ttl after Set. A non-positive
// ttl disables caching entirely: Set becomes a no-op and Get always misses.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (c *Cache[V]) WithClock(clock func() time.Time) *Cache[V] {
	c.clock = clock
	return c
}

// Get returns the cached value for key and whether it was present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || c.ttl <= 0 {
		return zero, false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.clock().After(e.expiresAt) {
		if ok {
			c.Delete(key)
		}
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with the configured TTL.
func (c *Cache[V]) Set(key string, value V) {
	if c == nil || c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes the entry for key. Unknown keys are ignored.
func (c *Cache[V]) Delete(key string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeleteFunc removes every entry for which pred returns true and reports how
// many entries were removed.
func (c *Cache[V]) DeleteFunc(pred func(key string, value V) bool) int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if pred(key, e.value) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Sweep drops expired entries and reports how many were removed.
func (c *Cache[V]) Sweep() int {
	if c == nil {
		return 0
	}

	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Purge removes all entries.
func (c *Cache[V]) Purge() {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits returns the number of fresh lookups served since creation.
func (c *Cache[V]) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of lookups that fell through since creation.
func (c *Cache[V]) Misses() uint64 { return c.misses.Load() }
