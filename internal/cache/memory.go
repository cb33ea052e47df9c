package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache memoizes raw response bodies in process memory. Entries
// expire on their own TTL; a background janitor sweeps expired ones on
// the cleanup interval.
type MemoryCache struct {
	entries *gocache.Cache
}

// NewMemoryCache creates a memory cache. A non-positive cleanup
// interval disables the janitor, leaving expiry to read-time checks.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{entries: gocache.New(defaultTTL, cleanupInterval)}
}

// Get returns the body stored under key, if present and fresh
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, found := c.entries.Get(key)
	if !found {
		return nil, false
	}
	body, ok := v.([]byte)
	return body, ok
}

// Set stores body under key. A non-positive ttl falls back to the
// cache's default TTL.
func (c *MemoryCache) Set(key string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.entries.Set(key, body, ttl)
	return nil
}

// Delete drops a single entry
func (c *MemoryCache) Delete(key string) error {
	c.entries.Delete(key)
	return nil
}

// Clear drops every entry
func (c *MemoryCache) Clear() error {
	c.entries.Flush()
	return nil
}
