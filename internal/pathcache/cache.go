// Package pathcache serves shortest-path lookups from a cache keyed by (from, to).
//
// A miss blocks for a synchronous search. A hit older than the refresh interval
// returns the stale path immediately and starts at most one background refresh
// per key; the refreshed value replaces the entry when the search completes.
package pathcache

import (
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// Searcher computes a shortest path. *railgraph.Graph satisfies it.
type Searcher interface {
	ShortestPath(from, to railgraph.NodeID) (railgraph.Path, error)
}

type key struct {
	from, to railgraph.NodeID
}

func (k key) String() string { return string(k.from) + "->" + string(k.to) }

type entry struct {
	path       railgraph.Path
	err        error
	computedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	searcher Searcher
	refresh  time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	entries    map[key]entry
	refreshing map[key]bool

	group singleflight.Group
	bg    sync.WaitGroup
}

// New creates a cache over searcher. A refresh interval <= 0 disables background refresh.
func New(searcher Searcher, refresh time.Duration) *Cache {
	return NewWithClock(searcher, refresh, time.Now)
}

// NewWithClock is New with an injected clock.
func NewWithClock(searcher Searcher, refresh time.Duration, now func() time.Time) *Cache {
	return &Cache{
		searcher:   searcher,
		refresh:    refresh,
		now:        now,
		entries:    make(map[key]entry),
		refreshing: make(map[key]bool),
	}
}

// ShortestPath returns the cached path between from and to, computing it on a miss.
// Errors (including "no path") are cached like values.
func (c *Cache) ShortestPath(from, to railgraph.NodeID) (railgraph.Path, error) {
	k := key{from: from, to: to}

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if ok {
		if c.refresh > 0 && c.now().Sub(e.computedAt) >= c.refresh {
			c.startRefresh(k)
		}
		return e.path, e.err
	}

	v, _, _ := c.group.Do(k.String(), func() (any, error) {
		return c.compute(k), nil
	})
	fresh := v.(entry)
	return fresh.path, fresh.err
}

// startRefresh launches one background search for k unless one is already in flight.
func (c *Cache) startRefresh(k key) {
	c.mu.Lock()
	if c.refreshing[k] {
		c.mu.Unlock()
		return
	}
	c.refreshing[k] = true
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, k)
			c.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PathCache: refresh %s panicked: %v", k, r)
			}
		}()
		c.group.Do(k.String(), func() (any, error) {
			return c.compute(k), nil
		})
	}()
}

// compute runs the search and installs the result atomically.
func (c *Cache) compute(k key) entry {
	path, err := c.searcher.ShortestPath(k.from, k.to)
	e := entry{path: path, err: err, computedAt: c.now()}
	c.mu.Lock()
	c.entries[k] = e
	c.mu.Unlock()
	return e
}

// Refreshing reports whether a background refresh for (from, to) is in flight.
func (c *Cache) Refreshing(from, to railgraph.NodeID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshing[key{from: from, to: to}]
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every cached entry. In-flight refreshes still install their result.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[key]entry)
	c.mu.Unlock()
}

// Wait blocks until all background refreshes have finished.
func (c *Cache) Wait() {
	c.bg.Wait()
}
