package extract

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheEntry holds one fetched response body within a run.
type CacheEntry struct {
	Body      []byte
	FetchedAt time.Time
}

// ResponseCache deduplicates repeated fetches of the same URL within a
// single run. Entries expire after the configured TTL and the cache is
// never persisted across runs.
type ResponseCache struct {
	lru *expirable.LRU[string, CacheEntry]
}

// NewResponseCache creates a cache holding up to size entries with the
// given TTL. A zero TTL means entries live for the length of the run.
func NewResponseCache(size int, ttl time.Duration) *ResponseCache {
	if size <= 0 {
		size = 512
	}
	return &ResponseCache{
		lru: expirable.NewLRU[string, CacheEntry](size, nil, ttl),
	}
}

// Get returns the cached body for a URL, if present and unexpired.
func (c *ResponseCache) Get(url string) ([]byte, bool) {
	entry, ok := c.lru.Get(url)
	if !ok {
		return nil, false
	}
	return entry.Body, true
}

// Set stores a response body for a URL.
func (c *ResponseCache) Set(url string, body []byte) {
	c.lru.Add(url, CacheEntry{Body: body, FetchedAt: time.Now()})
}

// Contains reports whether a URL is cached without touching recency.
func (c *ResponseCache) Contains(url string) bool {
	return c.lru.Contains(url)
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries. Called at end-of-run.
func (c *ResponseCache) Purge() {
	c.lru.Purge()
}
