package search

import (
	"sync"
	"time"
)

const (
	defaultCacheTTL     = 10 * time.Minute
	cacheEvictThreshold = 200
)

type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// resultCache holds usable search outputs keyed by the trimmed query.
type resultCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// newResultCache returns nil when ttl is negative, which disables caching.
func newResultCache(ttl time.Duration, now func() time.Time) *resultCache {
	if ttl < 0 {
		return nil
	}
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &resultCache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

func (c *resultCache) get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.result, true
}

func (c *resultCache) put(key, result string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = cacheEntry{result: result, expiresAt: now.Add(c.ttl)}

	if len(c.entries) > cacheEvictThreshold {
		for k, v := range c.entries {
			if now.After(v.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}
