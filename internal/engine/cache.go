package engine

import (
	"strings"
	"sync"
	"time"
)

// MemCache is an in-memory key→value cache with per-cache TTL. Expired
// entries are evicted lazily on the lookup that finds them — this cache is
// never swept by a background timer (the disk cache is, see DiskCache).
//
// It is an injected value, not a package global, so lifecycle and test
// isolation stay explicit.
type MemCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry[V]
	hits    int64
	misses  int64
}

type memEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewMemCache creates a cache whose entries live for ttl.
func NewMemCache[V any](ttl time.Duration) *MemCache[V] {
	return &MemCache[V]{
		ttl:     ttl,
		entries: make(map[string]memEntry[V]),
	}
}

// Get returns the live entry for key, lazily deleting it if expired.
func (c *MemCache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the cache's TTL.
func (c *MemCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Delete removes key if present.
func (c *MemCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len counts stored entries, expired ones included.
func (c *MemCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *MemCache[V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// CacheKey joins parts into a deterministic cache key.
func CacheKey(parts ...string) string {
	return strings.Join(parts, "|")
}
