package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"petition-watcher/internal/config"
	"petition-watcher/internal/storage"
	"petition-watcher/internal/tick"
)

// Manager enforces the rolling retention window over raw ticks and compacts
// completed local calendar days into DailyStat summaries. It runs on the
// write path but is an explicit method so tests and the archive CLI command
// can drive it deterministically.
type Manager struct {
	store              storage.TickStore
	loc                *time.Location
	retention          time.Duration
	statsRetentionDays int
	minPoints          int
	logger             zerolog.Logger
}

// NewManager builds an archival manager over store.
func NewManager(store storage.TickStore, cfg config.StorageConfig, loc *time.Location, logger zerolog.Logger) *Manager {
	minPoints := cfg.MinArchivePoints
	if minPoints <= 0 {
		minPoints = 10
	}
	statsDays := cfg.StatsRetentionDays
	if statsDays <= 0 {
		statsDays = 30
	}
	return &Manager{
		store:              store,
		loc:                loc,
		retention:          cfg.Retention,
		statsRetentionDays: statsDays,
		minPoints:          minPoints,
		logger:             logger.With().Str("component", "archive").Logger(),
	}
}

// OnWrite archives any completed days still holding raw ticks and then
// enforces retention. Archival and retention are independent: pruning runs
// regardless of whether a day qualified for a summary.
func (m *Manager) OnWrite(ctx context.Context, now time.Time) error {
	archiveErr := m.archiveCompletedDays(ctx, now)

	if m.retention > 0 {
		cutoff := now.Add(-m.retention).UnixMilli()
		if err := m.store.PruneOlderThan(ctx, cutoff); err != nil {
			return fmt.Errorf("prune ticks: %w", err)
		}
	}

	statsCutoff := tick.DayKey(now.AddDate(0, 0, -m.statsRetentionDays), m.loc)
	if err := m.store.PruneDailyStatsBefore(ctx, statsCutoff); err != nil {
		return fmt.Errorf("prune daily stats: %w", err)
	}

	return archiveErr
}

// archiveCompletedDays upserts a DailyStat for each local day strictly
// before today that still has raw ticks, has not been archived, and meets
// the minimum data-point threshold. Thin days are deferred, not dropped:
// their ticks stay until retention removes them, and a later call retries.
func (m *Manager) archiveCompletedDays(ctx context.Context, now time.Time) error {
	ticks, err := m.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read ticks: %w", err)
	}
	if len(ticks) == 0 {
		return nil
	}

	todayStart := tick.DayStart(now, m.loc).UnixMilli()
	if ticks[0].TS >= todayStart {
		return nil
	}

	archived, err := m.archivedDates(ctx)
	if err != nil {
		return err
	}

	byDay := make(map[string][]tick.Tick)
	for _, t := range ticks {
		if t.TS >= todayStart {
			break
		}
		key := tick.DayKey(t.Time(), m.loc)
		byDay[key] = append(byDay[key], t)
	}

	for date, dayTicks := range byDay {
		if archived[date] {
			continue
		}
		if len(dayTicks) < m.minPoints {
			m.logger.Debug().Str("date", date).Int("points", len(dayTicks)).
				Int("required", m.minPoints).Msg("deferring archival of thin day")
			continue
		}

		first, last := dayTicks[0], dayTicks[len(dayTicks)-1]
		stat := tick.DailyStat{
			Date:       date,
			StartCount: first.Count,
			EndCount:   last.Count,
			Collected:  last.Count - first.Count,
			DataPoints: len(dayTicks),
		}
		if err := m.store.UpsertDailyStat(ctx, stat); err != nil {
			return fmt.Errorf("archive day %s: %w", date, err)
		}
		m.logger.Info().Str("date", date).Int64("collected", stat.Collected).
			Int("points", stat.DataPoints).Msg("archived completed day")
	}

	return nil
}

func (m *Manager) archivedDates(ctx context.Context) (map[string]bool, error) {
	stats, err := m.store.ListDailyStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	dates := make(map[string]bool, len(stats))
	for _, st := range stats {
		dates[st.Date] = true
	}
	return dates, nil
}
