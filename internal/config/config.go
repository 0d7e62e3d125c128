package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"petition-watcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Validation ValidationConfig `mapstructure:"validation"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Forecast   ForecastConfig   `mapstructure:"forecast"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Backend is either "file" or "postgres".
	Backend            string        `mapstructure:"backend"`
	Root               string        `mapstructure:"root"`
	DSN                string        `mapstructure:"dsn"`
	MaxOpenConns       int           `mapstructure:"max_open_conns"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
	Retention          time.Duration `mapstructure:"retention"`
	StatsRetentionDays int           `mapstructure:"stats_retention_days"`
	BackupEveryWrites  int           `mapstructure:"backup_every_writes"`
	LockWait           time.Duration `mapstructure:"lock_wait"`
	Timezone           string        `mapstructure:"timezone"`
	MinArchivePoints   int           `mapstructure:"min_archive_points"`
}

// ValidationConfig carries sample acceptance thresholds. The numeric bounds
// are deliberately tunable rather than constants.
type ValidationConfig struct {
	MaxFutureSkew    time.Duration `mapstructure:"max_future_skew"`
	MaxStaleness     time.Duration `mapstructure:"max_staleness"`
	MaxCount         int64         `mapstructure:"max_count"`
	MaxRatePerSecond float64       `mapstructure:"max_rate_per_second"`
	DecreaseGrace    time.Duration `mapstructure:"decrease_grace"`
}

// RateLimitConfig bounds write attempts per caller and globally.
type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	GlobalPerWindow   int           `mapstructure:"global_per_window"`
	DedupProximity    time.Duration `mapstructure:"dedup_proximity"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	PruneThreshold    int           `mapstructure:"prune_threshold"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
	MaxAge     time.Duration `mapstructure:"max_age"`
}

// AnalyticsConfig tunes rate windows and confidence thresholds.
type AnalyticsConfig struct {
	SecondWindow      time.Duration `mapstructure:"second_window"`
	MinuteWindow      time.Duration `mapstructure:"minute_window"`
	HourWindow        time.Duration `mapstructure:"hour_window"`
	DayWindow         time.Duration `mapstructure:"day_window"`
	ReliablePoints    int           `mapstructure:"reliable_points"`
	StabilizingPoints int           `mapstructure:"stabilizing_points"`
}

// ForecastConfig carries Holt-Winters smoothing constants.
type ForecastConfig struct {
	Alpha        float64 `mapstructure:"alpha"`
	Beta         float64 `mapstructure:"beta"`
	Gamma        float64 `mapstructure:"gamma"`
	SeasonPeriod int     `mapstructure:"season_period"`
	Confidence   float64 `mapstructure:"confidence"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PETITIONWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "petitionwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.root", "data")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.query_timeout", "5s")
	v.SetDefault("storage.retention", "26h")
	v.SetDefault("storage.stats_retention_days", 30)
	v.SetDefault("storage.backup_every_writes", 10)
	v.SetDefault("storage.lock_wait", "3s")
	v.SetDefault("storage.timezone", "Local")
	v.SetDefault("storage.min_archive_points", 10)

	v.SetDefault("validation.max_future_skew", "60s")
	v.SetDefault("validation.max_staleness", "24h")
	v.SetDefault("validation.max_count", int64(100_000_000))
	v.SetDefault("validation.max_rate_per_second", 1000.0)
	v.SetDefault("validation.decrease_grace", "10m")

	v.SetDefault("ratelimit.requests_per_window", 120)
	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("ratelimit.global_per_window", 0)
	v.SetDefault("ratelimit.dedup_proximity", "2s")
	v.SetDefault("ratelimit.dedup_window", "10s")
	v.SetDefault("ratelimit.prune_threshold", 1024)

	v.SetDefault("cache.ttl", "15s")
	v.SetDefault("cache.max_entries", 256)
	v.SetDefault("cache.max_bytes", int64(4<<20))
	v.SetDefault("cache.max_age", "10s")

	v.SetDefault("analytics.second_window", "30s")
	v.SetDefault("analytics.minute_window", "5m")
	v.SetDefault("analytics.hour_window", "1h")
	v.SetDefault("analytics.day_window", "24h")
	v.SetDefault("analytics.reliable_points", 10)
	v.SetDefault("analytics.stabilizing_points", 3)

	v.SetDefault("forecast.alpha", 0.5)
	v.SetDefault("forecast.beta", 0.3)
	v.SetDefault("forecast.gamma", 0.4)
	v.SetDefault("forecast.season_period", 7)
	v.SetDefault("forecast.confidence", 0.95)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"postgres\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres backend")
	}
	if c.Storage.Backend == "file" && c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required for the file backend")
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage.retention must be greater than zero")
	}
	if c.Storage.MinArchivePoints <= 0 {
		return fmt.Errorf("storage.min_archive_points must be greater than zero")
	}
	if c.Validation.MaxCount <= 0 {
		return fmt.Errorf("validation.max_count must be greater than zero")
	}
	if c.Validation.MaxRatePerSecond <= 0 {
		return fmt.Errorf("validation.max_rate_per_second must be greater than zero")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("ratelimit.requests_per_window must be greater than zero")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be greater than zero")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than zero")
	}
	if err := validateSmoothing("forecast.alpha", c.Forecast.Alpha); err != nil {
		return err
	}
	if err := validateSmoothing("forecast.beta", c.Forecast.Beta); err != nil {
		return err
	}
	if err := validateSmoothing("forecast.gamma", c.Forecast.Gamma); err != nil {
		return err
	}
	if c.Forecast.SeasonPeriod < 2 {
		return fmt.Errorf("forecast.season_period must be at least 2")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

func validateSmoothing(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s must be in (0,1), got %v", name, v)
	}
	return nil
}

// Location resolves the configured archival timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Storage.Timezone == "" || strings.EqualFold(c.Storage.Timezone, "Local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Storage.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load storage.timezone: %w", err)
	}
	return loc, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
