package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"petition-watcher/internal/config"
	"petition-watcher/internal/tick"
)

const (
	ticksFile  = "ticks.json"
	backupFile = "ticks.backup.json"
	statsFile  = "daily_stats.json"
	lockFile   = "ticks.lock"

	lockBackoffMin = 5 * time.Millisecond
	lockBackoffMax = 100 * time.Millisecond

	// A lock held this many multiples of the bounded wait belongs to a
	// writer that died between create and remove; it is safe to break.
	staleLockFactor = 10
)

// FileStore persists ticks in a flat JSON file under a storage root,
// serialising writers with an exclusive-create lock file. Every write is a
// full read-merge-write cycle finished by an atomic rename, so readers never
// observe a partially written store.
type FileStore struct {
	root        string
	retention   time.Duration
	backupEvery int
	lockWait    time.Duration
	logger      zerolog.Logger

	mu             sync.Mutex
	writesSinceBkp int
}

// NewFileStore prepares the storage root and returns a flat-file tick store.
func NewFileStore(cfg config.StorageConfig, logger zerolog.Logger) (*FileStore, error) {
	if cfg.Root == "" {
		return nil, ErrNotConfigured
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	backupEvery := cfg.BackupEveryWrites
	if backupEvery <= 0 {
		backupEvery = 10
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}

	return &FileStore{
		root:        cfg.Root,
		retention:   cfg.Retention,
		backupEvery: backupEvery,
		lockWait:    lockWait,
		logger:      logger.With().Str("component", "filestore").Logger(),
	}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.root, name)
}

// acquireLock spins on an exclusive-create lock file with capped exponential
// backoff. Past the bounded wait it fails with ErrBusy rather than blocking.
func (s *FileStore) acquireLock(ctx context.Context) (func(), error) {
	lockPath := s.path(lockFile)
	deadline := time.Now().Add(s.lockWait)
	backoff := lockBackoffMin

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > time.Duration(staleLockFactor)*s.lockWait {
			s.logger.Warn().Str("lock", lockPath).Time("held_since", info.ModTime()).
				Msg("breaking stale lock left by a dead writer")
			os.Remove(lockPath)
			continue
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("lock %s held past %s: %w", lockPath, s.lockWait, ErrBusy)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock: %w: %w", ctx.Err(), ErrUnavailable)
		case <-timer.C:
		}
		backoff *= 2
		if backoff > lockBackoffMax {
			backoff = lockBackoffMax
		}
	}
}

// loadTicks reads the primary store, falling back to the last backup when the
// primary is corrupt, and to an empty store when both are unreadable.
func (s *FileStore) loadTicks() []tick.Tick {
	ticks, err := decodeTickFile(s.path(ticksFile))
	if err == nil {
		return ticks
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Msg("primary tick file unreadable, trying backup")
	}

	ticks, bkpErr := decodeTickFile(s.path(backupFile))
	if bkpErr == nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Int("ticks", len(ticks)).Msg("recovered tick history from backup")
		}
		return ticks
	}

	return nil
}

func decodeTickFile(path string) ([]tick.Tick, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ticks []tick.Tick
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", filepath.Base(path), err, ErrCorrupt)
	}
	return ticks, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename over %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) saveTicks(ticks []tick.Tick) error {
	data, err := json.Marshal(ticks)
	if err != nil {
		return fmt.Errorf("encode ticks: %w", err)
	}
	if err := writeAtomic(s.path(ticksFile), data); err != nil {
		return err
	}

	s.writesSinceBkp++
	if s.writesSinceBkp >= s.backupEvery {
		if err := writeAtomic(s.path(backupFile), data); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot backup failed")
		} else {
			s.writesSinceBkp = 0
		}
	}
	return nil
}

// Append upserts the tick by TS, enforces retention, and writes the store
// back atomically.
func (s *FileStore) Append(ctx context.Context, t tick.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	ticks := upsertTick(s.loadTicks(), t)
	if s.retention > 0 {
		cutoff := time.Now().Add(-s.retention).UnixMilli()
		ticks = dropOlderThan(ticks, cutoff)
	}

	return s.saveTicks(ticks)
}

// ReadAll returns the retained ticks in ascending TS order. Reads go
// lock-free: the atomic rename on the write path guarantees a consistent
// snapshot.
func (s *FileStore) ReadAll(ctx context.Context) ([]tick.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read ticks: %w: %w", err, ErrUnavailable)
	}
	return s.loadTicks(), nil
}

// PruneOlderThan removes ticks with TS strictly below cutoffMillis.
func (s *FileStore) PruneOlderThan(ctx context.Context, cutoffMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	ticks := s.loadTicks()
	kept := dropOlderThan(ticks, cutoffMillis)
	if len(kept) == len(ticks) {
		return nil
	}
	return s.saveTicks(kept)
}

// UpsertDailyStat stores or replaces the summary for stat.Date.
func (s *FileStore) UpsertDailyStat(ctx context.Context, stat tick.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	stats, _ := s.loadDailyStats()
	replaced := false
	for i := range stats {
		if stats[i].Date == stat.Date {
			stats[i] = stat
			replaced = true
			break
		}
	}
	if !replaced {
		stats = append(stats, stat)
		sort.Slice(stats, func(i, j int) bool { return stats[i].Date < stats[j].Date })
	}
	return s.saveDailyStats(stats)
}

// ListDailyStats returns archived day summaries ordered by date.
func (s *FileStore) ListDailyStats(ctx context.Context) ([]tick.DailyStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read daily stats: %w: %w", err, ErrUnavailable)
	}
	stats, _ := s.loadDailyStats()
	return stats, nil
}

// PruneDailyStatsBefore drops summaries with a date strictly before date.
func (s *FileStore) PruneDailyStatsBefore(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	stats, _ := s.loadDailyStats()
	kept := stats[:0]
	for _, st := range stats {
		if st.Date >= date {
			kept = append(kept, st)
		}
	}
	if len(kept) == len(stats) {
		return nil
	}
	return s.saveDailyStats(kept)
}

func (s *FileStore) loadDailyStats() ([]tick.DailyStat, error) {
	data, err := os.ReadFile(s.path(statsFile))
	if err != nil {
		return nil, err
	}
	var stats []tick.DailyStat
	if err := json.Unmarshal(data, &stats); err != nil {
		s.logger.Warn().Err(err).Msg("daily stats file unreadable, starting empty")
		return nil, fmt.Errorf("decode daily stats: %w: %w", err, ErrCorrupt)
	}
	return stats, nil
}

func (s *FileStore) saveDailyStats(stats []tick.DailyStat) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode daily stats: %w", err)
	}
	return writeAtomic(s.path(statsFile), data)
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() {}

// upsertTick inserts t into ticks keeping ascending TS order, replacing any
// existing entry with the same TS.
func upsertTick(ticks []tick.Tick, t tick.Tick) []tick.Tick {
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i].TS >= t.TS })
	if i < len(ticks) && ticks[i].TS == t.TS {
		ticks[i] = t
		return ticks
	}
	ticks = append(ticks, tick.Tick{})
	copy(ticks[i+1:], ticks[i:])
	ticks[i] = t
	return ticks
}

func dropOlderThan(ticks []tick.Tick, cutoffMillis int64) []tick.Tick {
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i].TS >= cutoffMillis })
	if i == 0 {
		return ticks
	}
	return append(ticks[:0], ticks[i:]...)
}
