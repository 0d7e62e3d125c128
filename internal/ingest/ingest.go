package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"petition-watcher/internal/archive"
	"petition-watcher/internal/dedup"
	"petition-watcher/internal/storage"
	"petition-watcher/internal/tick"
	"petition-watcher/internal/validate"
)

// Outcome describes how a sample was handled.
type Outcome struct {
	Accepted  bool
	Duplicate bool
	// RetryAfter is set when the error is dedup.ErrRateLimited or a
	// retryable storage failure.
	RetryAfter time.Duration
}

// storageRetryAfter is the hint surfaced with retryable storage failures.
const storageRetryAfter = 2 * time.Second

// Ingestor runs one sample through validation, deduplication, rate
// limiting, persistence, and archival. It owns the last-accepted-tick
// snapshot the validator checks against.
type Ingestor struct {
	validator *validate.Validator
	dedup     *dedup.Deduplicator
	limiter   *dedup.Limiter
	store     storage.TickStore
	archiver  *archive.Manager
	logger    zerolog.Logger

	mu   sync.Mutex
	last *tick.Tick
}

// New wires the ingestion pipeline.
func New(validator *validate.Validator, deduper *dedup.Deduplicator, limiter *dedup.Limiter, store storage.TickStore, archiver *archive.Manager, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		validator: validator,
		dedup:     deduper,
		limiter:   limiter,
		store:     store,
		archiver:  archiver,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// Warm seeds the last-accepted snapshot from durable state after a restart.
// Best effort: an unreachable store just leaves the snapshot empty.
func (i *Ingestor) Warm(ctx context.Context) {
	ticks, err := i.store.ReadAll(ctx)
	if err != nil || len(ticks) == 0 {
		return
	}
	last := ticks[len(ticks)-1]
	i.mu.Lock()
	i.last = &last
	i.mu.Unlock()
}

// Ingest handles a single (ts, count) sample from callerKey. Duplicates are
// a success-equivalent no-op. Validation failures are definitive; rate-limit
// and storage failures carry a retry-after hint in the outcome.
func (i *Ingestor) Ingest(ctx context.Context, now time.Time, callerKey string, ts, count int64) (Outcome, error) {
	if retryAfter, err := i.limiter.Allow(now, callerKey); err != nil {
		return Outcome{RetryAfter: retryAfter}, fmt.Errorf("caller %s: %w", callerKey, err)
	}

	i.mu.Lock()
	prev := i.last
	i.mu.Unlock()

	if err := i.validator.Check(now, prev, ts, count); err != nil {
		return Outcome{}, err
	}

	if i.dedup.ShouldSkip(now, ts, count) {
		i.logger.Debug().Int64("ts", ts).Int64("count", count).Msg("skipping duplicate sample")
		return Outcome{Duplicate: true}, nil
	}

	t := tick.Tick{TS: ts, Count: count}
	if err := i.store.Append(ctx, t); err != nil {
		if storage.IsRetryable(err) {
			return Outcome{RetryAfter: storageRetryAfter}, err
		}
		return Outcome{}, err
	}

	i.dedup.Record(now, ts, count)
	i.mu.Lock()
	i.last = &t
	i.mu.Unlock()

	// Archival and retention never fail an already-persisted write.
	if i.archiver != nil {
		if err := i.archiver.OnWrite(ctx, now); err != nil {
			i.logger.Warn().Err(err).Msg("post-write archival failed")
		}
	}

	i.logger.Debug().Int64("ts", ts).Int64("count", count).Msg("sample accepted")
	return Outcome{Accepted: true}, nil
}
