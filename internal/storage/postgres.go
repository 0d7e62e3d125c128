package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"petition-watcher/internal/config"
	"petition-watcher/internal/tick"
)

const (
	// The primary key doubles as the range-scan index over ts.
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS petition_ticks (
        ts         BIGINT PRIMARY KEY,
        count      BIGINT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS petition_daily_stats (
        date        TEXT PRIMARY KEY,
        start_count BIGINT NOT NULL,
        end_count   BIGINT NOT NULL,
        collected   BIGINT NOT NULL,
        data_points INTEGER NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	// The WHERE guard skips no-op updates when a duplicate sample arrives.
	upsertTickSQL = `INSERT INTO petition_ticks (ts, count)
    VALUES ($1, $2)
    ON CONFLICT (ts) DO UPDATE
    SET count = EXCLUDED.count
    WHERE petition_ticks.count IS DISTINCT FROM EXCLUDED.count;`

	listTicksSQL = `SELECT ts, count FROM petition_ticks ORDER BY ts;`

	deleteTicksBeforeSQL = `DELETE FROM petition_ticks WHERE ts < $1;`

	upsertDailyStatSQL = `INSERT INTO petition_daily_stats (
        date, start_count, end_count, collected, data_points, updated_at
    ) VALUES ($1, $2, $3, $4, $5, now())
    ON CONFLICT (date) DO UPDATE
    SET start_count = EXCLUDED.start_count,
        end_count   = EXCLUDED.end_count,
        collected   = EXCLUDED.collected,
        data_points = EXCLUDED.data_points,
        updated_at  = now();`

	listDailyStatsSQL = `SELECT date, start_count, end_count, collected, data_points
    FROM petition_daily_stats ORDER BY date;`

	deleteDailyStatsBeforeSQL = `DELETE FROM petition_daily_stats WHERE date < $1;`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresStore keeps ticks in a single timestamp-keyed table. Mutual
// exclusion is delegated to the database's row locking; every Append is one
// batched round trip carrying the upsert and the retention delete.
type PostgresStore struct {
	pool         *pgxpool.Pool
	retention    time.Duration
	queryTimeout time.Duration
	logger       zerolog.Logger

	schemaMu   sync.Mutex
	schemaDone bool
}

// schemaExecer is the slice of the pool that schema creation needs.
type schemaExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPostgresStore wires a pgx pool into a tick store. Schema creation is
// deferred to first use.
func NewPostgresStore(pool *pgxpool.Pool, cfg config.StorageConfig, logger zerolog.Logger) *PostgresStore {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{
		pool:         pool,
		retention:    cfg.Retention,
		queryTimeout: timeout,
		logger:       logger.With().Str("component", "pgstore").Logger(),
	}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// ensureSchema creates tables idempotently. Success latches so the statements
// run once per healthy process; a failed attempt is retried on the next call,
// so a transient outage at boot does not wedge the store.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return s.ensureSchemaOn(ctx, pool)
}

func (s *PostgresStore) ensureSchemaOn(ctx context.Context, db schemaExecer) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaDone {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range strings.Split(createSchemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, execErr := db.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
	}
	s.schemaDone = true
	return nil
}

// Append upserts the tick and prunes rows past retention in one round trip.
func (s *PostgresStore) Append(ctx context.Context, t tick.Tick) error {
	if err := s.ensureSchema(ctx); err != nil {
		return wrapPgErr("append tick", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	batch.Queue(upsertTickSQL, t.TS, t.Count)
	if s.retention > 0 {
		cutoff := time.Now().Add(-s.retention).UnixMilli()
		batch.Queue(deleteTicksBeforeSQL, cutoff)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, execErr := results.Exec(); execErr != nil {
			return wrapPgErr("append tick", execErr)
		}
	}
	return nil
}

// ReadAll returns retained ticks in ascending ts order.
func (s *PostgresStore) ReadAll(ctx context.Context) ([]tick.Tick, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, wrapPgErr("read ticks", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, queryErr := pool.Query(ctx, listTicksSQL)
	if queryErr != nil {
		return nil, wrapPgErr("read ticks", queryErr)
	}
	defer rows.Close()

	ticks := make([]tick.Tick, 0)
	for rows.Next() {
		var t tick.Tick
		if scanErr := rows.Scan(&t.TS, &t.Count); scanErr != nil {
			return nil, fmt.Errorf("scan tick: %w", scanErr)
		}
		ticks = append(ticks, t)
	}
	if rows.Err() != nil {
		return nil, wrapPgErr("read ticks", rows.Err())
	}
	return ticks, nil
}

// PruneOlderThan deletes ticks with ts strictly below cutoffMillis.
func (s *PostgresStore) PruneOlderThan(ctx context.Context, cutoffMillis int64) error {
	if err := s.ensureSchema(ctx); err != nil {
		return wrapPgErr("prune ticks", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, execErr := pool.Exec(ctx, deleteTicksBeforeSQL, cutoffMillis); execErr != nil {
		return wrapPgErr("prune ticks", execErr)
	}
	return nil
}

// UpsertDailyStat stores or replaces the summary keyed by stat.Date.
func (s *PostgresStore) UpsertDailyStat(ctx context.Context, stat tick.DailyStat) error {
	if err := s.ensureSchema(ctx); err != nil {
		return wrapPgErr("upsert daily stat", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, execErr := pool.Exec(ctx, upsertDailyStatSQL,
		stat.Date,
		stat.StartCount,
		stat.EndCount,
		stat.Collected,
		stat.DataPoints,
	)
	if execErr != nil {
		return wrapPgErr("upsert daily stat", execErr)
	}
	return nil
}

// ListDailyStats returns archived day summaries ordered by date.
func (s *PostgresStore) ListDailyStats(ctx context.Context) ([]tick.DailyStat, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, wrapPgErr("list daily stats", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, queryErr := pool.Query(ctx, listDailyStatsSQL)
	if queryErr != nil {
		return nil, wrapPgErr("list daily stats", queryErr)
	}
	defer rows.Close()

	stats := make([]tick.DailyStat, 0)
	for rows.Next() {
		var st tick.DailyStat
		if scanErr := rows.Scan(&st.Date, &st.StartCount, &st.EndCount, &st.Collected, &st.DataPoints); scanErr != nil {
			return nil, fmt.Errorf("scan daily stat: %w", scanErr)
		}
		stats = append(stats, st)
	}
	if rows.Err() != nil {
		return nil, wrapPgErr("list daily stats", rows.Err())
	}
	return stats, nil
}

// PruneDailyStatsBefore drops summaries dated strictly before date.
func (s *PostgresStore) PruneDailyStatsBefore(ctx context.Context, date string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return wrapPgErr("prune daily stats", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, execErr := pool.Exec(ctx, deleteDailyStatsBeforeSQL, date); execErr != nil {
		return wrapPgErr("prune daily stats", execErr)
	}
	return nil
}

// wrapPgErr classifies backend failures. Integrity errors (class 23) stay
// definitive; everything else is treated as transient and marked retryable.
func wrapPgErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, ErrNotConfigured) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, err, ErrUnavailable)
}
