// Package cache provides a generic in-process TTL cache used by the
// expansion and search-result layers. Expired entries are dropped lazily on
// read; a size-triggered sweep plus an optional background janitor cap memory.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a mutex-guarded map of string keys to expiring values.
type TTLCache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	maxEntries int
	now        func() time.Time
}

// New creates a TTL cache bounded to maxEntries (0 means unbounded).
func New[V any](maxEntries int) *TTLCache[V] {
	return &TTLCache[V]{
		entries:    make(map[string]entry[V]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.now = now
	return c
}

// Get returns the value for key. Entries past their deadline are treated as
// absent and removed.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed it.
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.sweepLocked()
		// Still over the cap after dropping expired entries: evict the
		// entries closest to expiry until we fit.
		for len(c.entries) > c.maxEntries {
			var oldestKey string
			var oldestAt time.Time
			for k, e := range c.entries {
				if oldestKey == "" || e.expiresAt.Before(oldestAt) {
					oldestKey = k
					oldestAt = e.expiresAt
				}
			}
			delete(c.entries, oldestKey)
		}
	}
}

// Delete removes key if present.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix removes every entry whose key starts with prefix. Used for
// tenant-scoped invalidation.
func (c *TTLCache[V]) DeletePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the current entry count, expired entries included.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops all expired entries.
func (c *TTLCache[V]) Sweep() {
	c.mu.Lock()
	c.sweepLocked()
	c.mu.Unlock()
}

func (c *TTLCache[V]) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Janitor sweeps every interval until ctx is done. Run it in its own
// goroutine from the composition root.
func (c *TTLCache[V]) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
