package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"petition-watcher/internal/config"
	"petition-watcher/internal/tick"
)

func testConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		SecondWindow:      30 * time.Second,
		MinuteWindow:      5 * time.Minute,
		HourWindow:        time.Hour,
		DayWindow:         24 * time.Hour,
		ReliablePoints:    10,
		StabilizingPoints: 3,
	}
}

func TestComputeRatesPerSecond(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0).UnixMilli()
	ticks := []tick.Tick{
		{TS: t0, Count: 100},
		{TS: t0 + 1000, Count: 110},
	}

	rates := ComputeRates(time.UnixMilli(t0+1000), ticks, testConfig())
	if !rates.PerSecond.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("perSecond = %s, want 10", rates.PerSecond)
	}
	if !rates.PerMinute.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("perMinute = %s, want 600", rates.PerMinute)
	}
	if rates.DataPoints.Second != 2 {
		t.Fatalf("second window data points = %d, want 2", rates.DataPoints.Second)
	}
}

func TestComputeRatesClampsNegative(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0).UnixMilli()
	// Upstream reset: count drops.
	ticks := []tick.Tick{
		{TS: t0, Count: 500},
		{TS: t0 + 1000, Count: 100},
	}

	rates := ComputeRates(time.UnixMilli(t0+1000), ticks, testConfig())
	if !rates.PerSecond.IsZero() {
		t.Fatalf("negative rate must clamp to zero, got %s", rates.PerSecond)
	}
}

func TestComputeRatesFallbackToLastTwo(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0).UnixMilli()
	// Both ticks fall far outside the 30s window.
	ticks := []tick.Tick{
		{TS: t0 - 600_000, Count: 100},
		{TS: t0 - 598_000, Count: 120},
	}

	rates := ComputeRates(time.UnixMilli(t0), ticks, testConfig())
	if !rates.PerSecond.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("fallback perSecond = %s, want 10", rates.PerSecond)
	}
	if rates.DataPoints.Second != 0 {
		t.Fatalf("second window should report 0 observed points, got %d", rates.DataPoints.Second)
	}
}

func TestComputeRatesEmptyAndSingle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	rates := ComputeRates(now, nil, testConfig())
	if !rates.PerHour.IsZero() {
		t.Fatalf("no ticks should yield zero rate, got %s", rates.PerHour)
	}

	rates = ComputeRates(now, []tick.Tick{{TS: now.UnixMilli(), Count: 5}}, testConfig())
	if !rates.PerHour.IsZero() {
		t.Fatalf("a single tick should yield zero rate, got %s", rates.PerHour)
	}
}

func TestConfidenceLabels(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		points int
		want   string
	}{
		{0, ConfidenceWarmingUp},
		{2, ConfidenceWarmingUp},
		{3, ConfidenceStabilizing},
		{9, ConfidenceStabilizing},
		{10, ConfidenceReliable},
	}
	for _, tc := range cases {
		if got := confidenceFor(tc.points, cfg); got != tc.want {
			t.Fatalf("confidenceFor(%d) = %q, want %q", tc.points, got, tc.want)
		}
	}
}

func TestComputeTodayStats(t *testing.T) {
	loc := time.UTC
	dayStart := time.Date(2026, 8, 30, 0, 0, 0, 0, loc)
	now := dayStart.Add(12 * time.Hour)

	ticks := []tick.Tick{
		{TS: dayStart.Add(-time.Hour).UnixMilli(), Count: 480}, // yesterday
		{TS: dayStart.Add(time.Hour).UnixMilli(), Count: 500},
		{TS: dayStart.Add(6 * time.Hour).UnixMilli(), Count: 640},
		{TS: dayStart.Add(11 * time.Hour).UnixMilli(), Count: 780},
	}

	stats := ComputeTodayStats(now, ticks, dayStart)
	if !stats.HasBaseline || stats.Baseline != 500 {
		t.Fatalf("baseline = %d (has=%v), want 500", stats.Baseline, stats.HasBaseline)
	}
	if stats.Collected != 280 {
		t.Fatalf("collected = %d, want 280", stats.Collected)
	}
	if stats.DataPoints != 3 {
		t.Fatalf("today data points = %d, want 3", stats.DataPoints)
	}
	if stats.RolloverInMs != (12 * time.Hour).Milliseconds() {
		t.Fatalf("rollover ms = %d, want %d", stats.RolloverInMs, (12 * time.Hour).Milliseconds())
	}
}

func TestComputeTodayStatsNoBaseline(t *testing.T) {
	loc := time.UTC
	dayStart := time.Date(2026, 8, 30, 0, 0, 0, 0, loc)
	ticks := []tick.Tick{
		{TS: dayStart.Add(-2 * time.Hour).UnixMilli(), Count: 480},
	}

	stats := ComputeTodayStats(dayStart.Add(time.Hour), ticks, dayStart)
	if stats.HasBaseline {
		t.Fatal("no tick at/after day start, baseline must be unknown")
	}
	if stats.Collected != 0 {
		t.Fatalf("collected = %d, want 0 without baseline", stats.Collected)
	}
}

func TestComputeTodayStatsDSTRollover(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}

	// 2026-03-08 is a 23-hour day in this zone.
	dayStart := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)
	now := dayStart.Add(time.Hour)
	ticks := []tick.Tick{{TS: dayStart.UnixMilli(), Count: 100}}

	stats := ComputeTodayStats(now, ticks, dayStart)
	if want := (22 * time.Hour).Milliseconds(); stats.RolloverInMs != want {
		t.Fatalf("rollover ms = %d, want %d", stats.RolloverInMs, want)
	}
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	ticks := make([]tick.Tick, 101)
	for i := range ticks {
		ticks[i] = tick.Tick{TS: int64(i * 1000), Count: int64(i)}
	}

	down := Downsample(ticks, 10)
	if len(down) != 10 {
		t.Fatalf("downsampled length = %d, want 10", len(down))
	}
	if down[0] != ticks[0] {
		t.Fatalf("first point must survive, got %+v", down[0])
	}
	if down[len(down)-1] != ticks[len(ticks)-1] {
		t.Fatalf("last point must survive, got %+v", down[len(down)-1])
	}
	for i := 1; i < len(down); i++ {
		if down[i].TS <= down[i-1].TS {
			t.Fatalf("downsampled ticks must stay ascending at %d", i)
		}
	}
}

func TestDownsampleSmallInputsUntouched(t *testing.T) {
	ticks := []tick.Tick{{TS: 1, Count: 1}, {TS: 2, Count: 2}}
	if got := Downsample(ticks, 10); len(got) != 2 {
		t.Fatalf("under-limit input must pass through, got %d points", len(got))
	}
}
