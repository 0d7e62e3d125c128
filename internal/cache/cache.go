package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"petition-watcher/internal/config"
)

// sweepEvery bounds cleanup cost: expired entries are swept on roughly one
// in this many Puts, not on every request.
const sweepEvery = 16

// Entry is one cached response body with its conditional-request metadata.
type Entry struct {
	Body     []byte
	ETag     string
	Size     int
	StoredAt time.Time
}

// ResponseCache is a short-TTL, bounded-size cache keyed by the normalized
// query string. It is bounded both by entry count and by total body bytes,
// so a handful of huge payloads cannot hold the whole budget. It is
// process-local and rebuilt on restart; it is never a source of truth.
type ResponseCache struct {
	ttl        time.Duration
	maxEntries int
	maxBytes   int64

	mu         sync.Mutex
	entries    map[string]Entry
	totalBytes int64
	puts       uint64
}

// New builds an empty response cache from config.
func New(cfg config.CacheConfig) *ResponseCache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 256
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &ResponseCache{
		ttl:        cfg.TTL,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    make(map[string]Entry),
	}
}

// Get returns the cached entry for key if present and inside the TTL.
func (c *ResponseCache) Get(now time.Time, key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.ttl > 0 && now.Sub(entry.StoredAt) > c.ttl {
		c.removeLocked(key)
		return Entry{}, false
	}
	return entry, true
}

// Put stores a response body under key. Expired entries are swept
// opportunistically; when the cache is over capacity the oldest entries are
// evicted first.
func (c *ResponseCache) Put(now time.Time, key string, body []byte, etag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	c.entries[key] = Entry{Body: body, ETag: etag, Size: len(body), StoredAt: now}
	c.totalBytes += int64(len(body))

	c.puts++
	if c.ttl > 0 && c.puts%sweepEvery == 0 {
		for k, e := range c.entries {
			if now.Sub(e.StoredAt) > c.ttl {
				c.removeLocked(k)
			}
		}
	}

	for len(c.entries) > c.maxEntries || c.totalBytes > c.maxBytes {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.StoredAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.StoredAt
			}
		}
		if oldestKey == "" {
			break
		}
		c.removeLocked(oldestKey)
	}
}

func (c *ResponseCache) removeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.totalBytes -= int64(e.Size)
		delete(c.entries, key)
	}
}

// Len reports the current entry count.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ETagFor fingerprints a result from its stable identity: total tick count,
// newest timestamp, and a coarse time bucket. Semantically identical results
// produce identical tags even across re-fetches.
func ETagFor(totalTicks int, newestTS int64, bucket int64) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%d:%d:%d", totalTicks, newestTS, bucket))
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", sum))
}
