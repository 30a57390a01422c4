// Package ttlcache is a small fixed-TTL map used to absorb repeated read queries.
package ttlcache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache maps keys to values that expire a fixed TTL after being stored.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[K]item[V]
}

// New creates a cache. A TTL <= 0 disables caching: Get always misses.
func New[K comparable, V any](ttl time.Duration, now func() time.Time) *Cache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[K, V]{ttl: ttl, now: now, items: make(map[K]item[V])}
}

// Get returns the value for k if it has not expired.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[k]
	c.mu.RUnlock()
	if !ok || !c.now().Before(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores v under k.
func (c *Cache[K, V]) Set(k K, v V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[k] = item[V]{value: v, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrCompute returns the cached value or stores the result of compute.
// Concurrent misses for the same key may each call compute.
func (c *Cache[K, V]) GetOrCompute(k K, compute func() V) V {
	if v, ok := c.Get(k); ok {
		return v
	}
	v := compute()
	c.Set(k, v)
	return v
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache[K, V]) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]item[V])
	c.mu.Unlock()
}
