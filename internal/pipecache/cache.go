// Package pipecache memoizes expensive GPU object creation by key.
//
// Concurrent misses on one key collapse into a single create call through
// golang.org/x/sync/singleflight; every waiter receives the same value.
// Failed creations are not cached, so one bad key never affects another and
// a later call with the same key retries.
package pipecache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache is a concurrent get-or-create map from string keys to values.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
	flight  singleflight.Group

	hits    atomic.Uint64
	misses  atomic.Uint64
	creates atomic.Uint64
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

// GetOrCreate returns the value cached under key, calling create on a miss.
// The second result reports whether this call's create produced the value.
func (c *Cache[V]) GetOrCreate(key string, create func() (V, error)) (V, bool, error) {
	c.mu.RLock()
	if v, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return v, false, nil
	}
	c.mu.RUnlock()

	c.misses.Add(1)
	created := false
	res, err, _ := c.flight.Do(key, func() (any, error) {
		// A flight that finished between our read and Do already stored it.
		c.mu.RLock()
		v, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		v, err := create()
		if err != nil {
			return nil, err
		}
		c.creates.Add(1)
		created = true

		c.mu.Lock()
		c.entries[key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, _ := res.(V)
	return v, created, nil
}

// Get returns the cached value without creating it.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Evict removes key and returns the value that was cached.
func (c *Cache[V]) Evict(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return v, ok
}

// Drain empties the cache and returns every value it held.
func (c *Cache[V]) Drain() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]V, 0, len(c.entries))
	for _, v := range c.entries {
		out = append(out, v)
	}
	c.entries = make(map[string]V)
	return out
}

// Len returns the number of cached values.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Creates uint64
	Size    int
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters. Values are read independently and may
// be slightly out of sync with each other.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Creates: c.creates.Load(),
		Size:    c.Len(),
	}
}
