// Package cache provides the bounded, concurrency-safe value cache used by
// disk-backed FSD indexes.
//
// Entries are evicted least recently used first once the cache holds
// maxEntries values. Concurrent loads of the same key are collapsed into a
// single call.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a bounded LRU cache of decoded values.
//
// A Cache created with maxEntries <= 0 stores nothing; every lookup loads.
// The zero value is not usable; construct with New.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	lru   *lru.Cache
	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache holding at most maxEntries values.
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	c := &Cache[K, V]{}
	if maxEntries > 0 {
		c.lru = lru.New(maxEntries)
		c.lru.OnEvicted = func(lru.Key, any) {
			c.evictions.Add(1)
		}
	}
	return c
}

func (c *Cache[K, V]) get(key K) (V, bool) {
	var zero V
	if c.lru == nil {
		return zero, false
	}
	c.mu.Lock()
	v, ok := c.lru.Get(key)
	c.mu.Unlock()
	if !ok {
		return zero, false
	}
	return v.(V), true //nolint:errcheck // only V values are stored
}

// add stores value under key, evicting the least recently used entry when full.
func (c *Cache[K, V]) add(key K, value V) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	c.lru.Add(key, value)
	c.mu.Unlock()
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every cached value.
func (c *Cache[K, V]) Clear() {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	c.lru.Clear()
	c.mu.Unlock()
}

// Stats returns the entry count and the hit, miss and eviction counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent misses for the same key share one load. Failed loads are not cached.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	result, err, _ := c.group.Do(fmt.Sprintf("%T:%v", key, key), func() (any, error) {
		// Double-check after winning the flight.
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil //nolint:errcheck // type assertion always succeeds when err is nil
}
