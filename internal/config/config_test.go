package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Backend != "file" {
		t.Errorf("storage.backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Storage.Retention != 26*time.Hour {
		t.Errorf("storage.retention = %s, want 26h", cfg.Storage.Retention)
	}
	if cfg.Storage.MinArchivePoints != 10 {
		t.Errorf("storage.min_archive_points = %d, want 10", cfg.Storage.MinArchivePoints)
	}
	if cfg.RateLimit.RequestsPerWindow != 120 {
		t.Errorf("ratelimit.requests_per_window = %d, want 120", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.Cache.TTL != 15*time.Second {
		t.Errorf("cache.ttl = %s, want 15s", cfg.Cache.TTL)
	}
	if cfg.Forecast.SeasonPeriod != 7 {
		t.Errorf("forecast.season_period = %d, want 7", cfg.Forecast.SeasonPeriod)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
storage:
  backend: file
  root: /tmp/petition-data
  retention: 48h
ratelimit:
  requests_per_window: 10
  window: 30s
forecast:
  season_period: 14
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Retention != 48*time.Hour {
		t.Errorf("retention = %s, want 48h", cfg.Storage.Retention)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("requests_per_window = %d, want 10", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("window = %s, want 30s", cfg.RateLimit.Window)
	}
	if cfg.Forecast.SeasonPeriod != 14 {
		t.Errorf("season_period = %d, want 14", cfg.Forecast.SeasonPeriod)
	}
	// Untouched sections keep their defaults.
	if cfg.Validation.MaxRatePerSecond != 1000 {
		t.Errorf("max_rate_per_second = %v, want 1000", cfg.Validation.MaxRatePerSecond)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.DSN = "" }},
		{"file without root", func(c *Config) { c.Storage.Root = "" }},
		{"zero retention", func(c *Config) { c.Storage.Retention = 0 }},
		{"zero max count", func(c *Config) { c.Validation.MaxCount = 0 }},
		{"zero rate quota", func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }},
		{"alpha out of range", func(c *Config) { c.Forecast.Alpha = 1.5 }},
		{"gamma at boundary", func(c *Config) { c.Forecast.Gamma = 1.0 }},
		{"season period too short", func(c *Config) { c.Forecast.SeasonPeriod = 1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Timezone: "UTC"}}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc != time.UTC {
		t.Errorf("loc = %v, want UTC", loc)
	}

	cfg.Storage.Timezone = "Local"
	loc, err = cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc != time.Local {
		t.Errorf("loc = %v, want Local", loc)
	}

	cfg.Storage.Timezone = "Not/AZone"
	if _, err := cfg.Location(); err == nil {
		t.Fatal("expected an error for an unknown zone")
	}
}
