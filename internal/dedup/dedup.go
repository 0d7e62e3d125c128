package dedup

import (
	"sync"
	"time"

	"petition-watcher/internal/config"
)

// signature is the coarse per-second key used to suppress near-duplicate
// writes from concurrent callers converging on the same sample.
type signature struct {
	count int64
	sec   int64
}

// Deduplicator suppresses redundant write attempts. State is explicit and
// constructor-injected so tests can run independent instances.
type Deduplicator struct {
	proximity      time.Duration
	window         time.Duration
	pruneThreshold int

	mu        sync.Mutex
	hasLast   bool
	lastTS    int64
	lastCount int64
	seen      map[signature]time.Time
}

// NewDeduplicator builds a deduplicator from rate-limit config.
func NewDeduplicator(cfg config.RateLimitConfig) *Deduplicator {
	threshold := cfg.PruneThreshold
	if threshold <= 0 {
		threshold = 1024
	}
	return &Deduplicator{
		proximity:      cfg.DedupProximity,
		window:         cfg.DedupWindow,
		pruneThreshold: threshold,
		seen:           make(map[signature]time.Time),
	}
}

// ShouldSkip reports whether the candidate pair is a redundant write:
// byte-identical to the last accepted pair, within the proximity window of it
// with the same count, or carrying a per-second signature already written
// inside the dedup window.
func (d *Deduplicator) ShouldSkip(now time.Time, ts, count int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasLast {
		if ts == d.lastTS && count == d.lastCount {
			return true
		}
		if count == d.lastCount && absInt64(ts-d.lastTS) <= d.proximity.Milliseconds() {
			return true
		}
	}

	if d.window > 0 {
		sig := signature{count: count, sec: ts / 1000}
		if at, ok := d.seen[sig]; ok && now.Sub(at) <= d.window {
			return true
		}
	}

	return false
}

// Record notes an accepted write so later candidates can be deduplicated
// against it. Expired signatures are pruned lazily once the map crosses the
// housekeeping threshold.
func (d *Deduplicator) Record(now time.Time, ts, count int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hasLast = true
	d.lastTS = ts
	d.lastCount = count

	if d.window <= 0 {
		return
	}
	d.seen[signature{count: count, sec: ts / 1000}] = now

	if len(d.seen) > d.pruneThreshold {
		for sig, at := range d.seen {
			if now.Sub(at) > d.window {
				delete(d.seen, sig)
			}
		}
	}
}

// Last returns the last recorded pair, if any.
func (d *Deduplicator) Last() (ts, count int64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTS, d.lastCount, d.hasLast
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
