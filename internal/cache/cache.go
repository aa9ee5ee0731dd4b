// Package cache provides a small in-memory TTL cache. Each provider owns its
// own instances; there is no process-wide state, and Clear gives tests a reset.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	at    time.Time
	value V
}

// TTL is a map with per-entry expiry. A read past the TTL is a miss; stale
// values stay readable through GetStale until overwritten.
type TTL[K comparable, V any] struct {
	ttl time.Duration

	mu    sync.Mutex
	items map[K]entry[V]
	now   func() time.Time
}

func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{ttl: ttl, items: map[K]entry[V]{}, now: time.Now}
}

// Get returns the cached value if it is still fresh.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns the cached value regardless of expiry, reporting whether it
// is still fresh. Callers use it to serve a stale value when an upstream is
// down.
func (c *TTL[K, V]) GetStale(key K) (value V, ok bool, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.items[key]
	if !found {
		var zero V
		return zero, false, false
	}
	return e.value, true, c.now().Sub(e.at) < c.ttl
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{at: c.now(), value: value}
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[K]entry[V]{}
}

// SetClock overrides the cache clock. Tests only.
func (c *TTL[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
