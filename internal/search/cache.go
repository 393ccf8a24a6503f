package search

import (
	"fmt"
	"path"
	"sync"
	"time"
)

// Cache is an explicit TTL cache for search results. Callers construct one
// per component with an injected TTL; there is no package-level instance.
// Keys are built with Key so invalidation patterns can target the query
// text.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	res      *Results
	storedAt time.Time
}

// NewCache creates a cache whose entries expire ttl after insertion.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// SetClock overrides the cache's time source for tests.
func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Key derives the cache key for one search call.
func Key(query string, f Filters, limit, offset int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		query, f.EntityType, f.EntityID, f.Category, f.DocumentType, limit, offset)
}

// Get returns the cached results for key if present and not expired.
// Expired entries are dropped on access.
func (c *Cache) Get(key string) (*Results, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.res, true
}

// Put stores results under key, resetting its TTL.
func (c *Cache) Put(key string, res *Results) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{res: res, storedAt: c.now()}
}

// InvalidateByPattern drops every entry whose key matches the glob pattern
// (path.Match syntax, so "migration*" clears all keys starting with
// migration). Returns the number of entries removed. A malformed pattern
// removes nothing and reports the error.
func (c *Cache) InvalidateByPattern(pattern string) (int, error) {
	// Validate once up front so a bad pattern cannot half-clear the cache.
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid invalidation pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
