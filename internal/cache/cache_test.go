package cache

import (
	"fmt"
	"testing"
	"time"

	"petition-watcher/internal/config"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		TTL:        15 * time.Second,
		MaxEntries: 4,
		MaxAge:     10 * time.Second,
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	c := New(testConfig())
	now := time.Unix(1_700_000_000, 0)

	c.Put(now, "include=rates", []byte(`{"a":1}`), `"etag1"`)

	entry, ok := c.Get(now.Add(5*time.Second), "include=rates")
	if !ok {
		t.Fatal("expected cache hit inside TTL")
	}
	if entry.ETag != `"etag1"` {
		t.Fatalf("etag = %s, want \"etag1\"", entry.ETag)
	}
}

func TestCacheExpiresPastTTL(t *testing.T) {
	c := New(testConfig())
	now := time.Unix(1_700_000_000, 0)

	c.Put(now, "k", []byte("v"), `"e"`)
	if _, ok := c.Get(now.Add(20*time.Second), "k"); ok {
		t.Fatal("entry past TTL must miss")
	}
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	c := New(testConfig())
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		c.Put(now.Add(time.Duration(i)*time.Second), key, []byte(key), `"e"`)
	}

	if c.Len() != 4 {
		t.Fatalf("cache size = %d, want capacity 4", c.Len())
	}
	if _, ok := c.Get(now.Add(5*time.Second), "k0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get(now.Add(5*time.Second), "k4"); !ok {
		t.Fatal("newest entry should survive eviction")
	}
}

func TestCacheRecordsEntrySize(t *testing.T) {
	c := New(testConfig())
	now := time.Unix(1_700_000_000, 0)

	c.Put(now, "k", make([]byte, 128), `"e"`)
	entry, ok := c.Get(now, "k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.Size != 128 {
		t.Fatalf("entry size = %d, want 128", entry.Size)
	}
}

func TestCacheBoundsTotalBytes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 100
	c := New(cfg)
	now := time.Unix(1_700_000_000, 0)

	c.Put(now, "a", make([]byte, 60), `"a"`)
	c.Put(now.Add(time.Second), "b", make([]byte, 60), `"b"`)

	// Entry count is under capacity; the byte bound must still evict.
	if _, ok := c.Get(now.Add(2*time.Second), "a"); ok {
		t.Fatal("oldest entry should be evicted once total bytes exceed the bound")
	}
	if _, ok := c.Get(now.Add(2*time.Second), "b"); !ok {
		t.Fatal("newest entry should survive byte-bound eviction")
	}
}

func TestETagStable(t *testing.T) {
	a := ETagFor(100, 1_700_000_000_000, 42)
	b := ETagFor(100, 1_700_000_000_000, 42)
	if a != b {
		t.Fatalf("identical inputs must produce identical ETags: %s vs %s", a, b)
	}
	if a == ETagFor(101, 1_700_000_000_000, 42) {
		t.Fatal("different tick totals must change the ETag")
	}
	if a[0] != '"' || a[len(a)-1] != '"' {
		t.Fatalf("ETag must be quoted, got %s", a)
	}
}
