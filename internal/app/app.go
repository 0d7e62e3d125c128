package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"petition-watcher/internal/archive"
	"petition-watcher/internal/cache"
	"petition-watcher/internal/config"
	"petition-watcher/internal/dedup"
	"petition-watcher/internal/ingest"
	"petition-watcher/internal/server"
	"petition-watcher/internal/storage"
	"petition-watcher/internal/validate"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openStore selects the persistence backend from configuration.
func (a *App) openStore(ctx context.Context) (storage.TickStore, func(), error) {
	switch a.Config.Storage.Backend {
	case "postgres":
		pool, err := storage.NewPool(ctx, a.Config.Storage)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewPostgresStore(pool, a.Config.Storage, a.Logger)
		return store, store.Close, nil
	case "file":
		store, err := storage.NewFileStore(a.Config.Storage, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", a.Config.Storage.Backend)
	}
}

func (a *App) newArchiver(store storage.TickStore) (*archive.Manager, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	return archive.NewManager(store, a.Config.Storage, loc, a.Logger), nil
}

// Serve runs the HTTP surface until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver, err := a.newArchiver(store)
	if err != nil {
		return err
	}
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	ingestor := ingest.New(
		validate.New(a.Config.Validation),
		dedup.NewDeduplicator(a.Config.RateLimit),
		dedup.NewLimiter(a.Config.RateLimit),
		store,
		archiver,
		a.Logger,
	)
	ingestor.Warm(ctx)

	srv := server.New(a.Config, store, ingestor, cache.New(a.Config.Cache), loc, a.Logger)

	httpServer := &http.Server{
		Addr:         a.Config.Server.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	a.Logger.Info().Msg("http server stopped")
	return nil
}

// Archive runs one archival and retention pass, for cron or manual use.
func (a *App) Archive(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver, err := a.newArchiver(store)
	if err != nil {
		return err
	}
	return archiver.OnWrite(ctx, time.Now())
}

// ExportOptions hold parameters for exporting tick history.
type ExportOptions struct {
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ForecastOptions configure the forecast command.
type ForecastOptions struct {
	Target     float64
	Confidence float64
}
