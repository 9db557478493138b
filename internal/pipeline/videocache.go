package pipeline

import (
	"encoding/hex"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// DefaultVideoCacheTTL is how long a rendered clip URL is reused.
const DefaultVideoCacheTTL = 24 * time.Hour

// CacheKey identifies a clip by its audio content and avatar.
func CacheKey(audio []byte, avatar string) string {
	sum := blake3.Sum256(audio)
	return avatar + "_" + hex.EncodeToString(sum[:])
}

type videoEntry struct {
	url     string
	created time.Time
}

// VideoCache maps clip keys to rendered video URLs with a fixed TTL.
type VideoCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]videoEntry
}

func NewVideoCache(ttl time.Duration) *VideoCache {
	if ttl <= 0 {
		ttl = DefaultVideoCacheTTL
	}
	return &VideoCache{ttl: ttl, now: time.Now, entries: make(map[string]videoEntry)}
}

// Get returns a live entry. Expired entries are dropped on access.
func (c *VideoCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.created) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.url, true
}

func (c *VideoCache) Put(key, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = videoEntry{url: url, created: c.now()}
}

// Prune removes expired entries and returns how many were dropped.
func (c *VideoCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.created) >= c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *VideoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// CacheEntry is the public view of one cached clip.
type CacheEntry struct {
	Key   string `json:"key"`
	AgeMs int64  `json:"age"`
	URL   string `json:"url"`
}

// CacheStats summarises the cache for the admin endpoint.
type CacheStats struct {
	Size    int          `json:"size"`
	Entries []CacheEntry `json:"entries"`
}

func (c *VideoCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	stats := CacheStats{Size: len(c.entries), Entries: make([]CacheEntry, 0, len(c.entries))}
	for k, e := range c.entries {
		short := k
		if len(short) > 8 {
			short = short[:8]
		}
		stats.Entries = append(stats.Entries, CacheEntry{Key: short, AgeMs: now.Sub(e.created).Milliseconds(), URL: e.url})
	}
	return stats
}
