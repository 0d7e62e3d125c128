package dedup

import (
	"errors"
	"sync"
	"time"

	"petition-watcher/internal/config"
)

// ErrRateLimited signals the caller exceeded its write quota.
var ErrRateLimited = errors.New("dedup: rate limited")

type windowRecord struct {
	count   int
	resetAt time.Time
}

// Limiter applies a fixed-window request quota per caller key plus an
// optional global ceiling shared by all callers.
type Limiter struct {
	perWindow      int
	window         time.Duration
	globalCeiling  int
	pruneThreshold int

	mu      sync.Mutex
	callers map[string]*windowRecord
	global  windowRecord
}

// NewLimiter builds a limiter from rate-limit config.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	threshold := cfg.PruneThreshold
	if threshold <= 0 {
		threshold = 1024
	}
	return &Limiter{
		perWindow:      cfg.RequestsPerWindow,
		window:         cfg.Window,
		globalCeiling:  cfg.GlobalPerWindow,
		pruneThreshold: threshold,
		callers:        make(map[string]*windowRecord),
	}
}

// Allow records one request for key and returns how long the caller must
// wait when either its own window or the global ceiling is exhausted.
// retryAfter is only meaningful when err is ErrRateLimited; it never exceeds
// the window length.
func (l *Limiter) Allow(now time.Time, key string) (retryAfter time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.globalCeiling > 0 {
		if now.After(l.global.resetAt) {
			l.global = windowRecord{resetAt: now.Add(l.window)}
		}
		if l.global.count >= l.globalCeiling {
			return l.global.resetAt.Sub(now), ErrRateLimited
		}
	}

	rec, ok := l.callers[key]
	if !ok || now.After(rec.resetAt) {
		rec = &windowRecord{resetAt: now.Add(l.window)}
		l.callers[key] = rec
	}

	if rec.count >= l.perWindow {
		return rec.resetAt.Sub(now), ErrRateLimited
	}

	rec.count++
	if l.globalCeiling > 0 {
		l.global.count++
	}

	if len(l.callers) > l.pruneThreshold {
		l.pruneLocked(now)
	}

	return 0, nil
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, rec := range l.callers {
		if now.After(rec.resetAt) {
			delete(l.callers, key)
		}
	}
}
