package storage

import (
	"context"
	"errors"

	"petition-watcher/internal/tick"
)

var (
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
	// ErrBusy indicates the lock on the tick store could not be acquired
	// within the bounded wait. Callers may retry after a short delay.
	ErrBusy = errors.New("storage: store busy")
	// ErrUnavailable indicates a transient backend failure. Callers may
	// retry with backoff; no data has been lost.
	ErrUnavailable = errors.New("storage: backend unavailable")
	// ErrCorrupt indicates the primary store file could not be decoded.
	// The file backend recovers from it internally; it never reaches the
	// request path.
	ErrCorrupt = errors.New("storage: store corrupt")
)

// IsRetryable reports whether err is a transient condition worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrUnavailable)
}

// TickStore is the capability surface shared by the locked-file and
// relational backends. Ticks are unique by TS and always returned in
// ascending TS order; Append is an upsert, so racing writers on the same TS
// converge to a single row (last writer wins on count).
type TickStore interface {
	Append(ctx context.Context, t tick.Tick) error
	ReadAll(ctx context.Context) ([]tick.Tick, error)
	PruneOlderThan(ctx context.Context, cutoffMillis int64) error

	UpsertDailyStat(ctx context.Context, stat tick.DailyStat) error
	ListDailyStats(ctx context.Context) ([]tick.DailyStat, error)
	PruneDailyStatsBefore(ctx context.Context, date string) error

	Close()
}
