package forecast

import (
	"errors"
	"math"
	"testing"
	"time"

	"petition-watcher/internal/config"
)

func testConfig() config.ForecastConfig {
	return config.ForecastConfig{
		Alpha:        0.5,
		Beta:         0.3,
		Gamma:        0.4,
		SeasonPeriod: 4,
		Confidence:   0.95,
	}
}

// periodicSeries repeats one season whose first value equals its mean, so
// the fitted state stays exact through the smoothing pass.
func periodicSeries(seasons int) []float64 {
	season := []float64{10, 12, 10, 8}
	series := make([]float64, 0, seasons*len(season))
	for i := 0; i < seasons; i++ {
		series = append(series, season...)
	}
	return series
}

func TestFitRejectsShortSeries(t *testing.T) {
	_, err := Fit(periodicSeries(2)[:7], testConfig())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for 7 points with period 4, got %v", err)
	}
}

func TestForecastPeriodicSeries(t *testing.T) {
	series := periodicSeries(3)
	m, err := Fit(series, testConfig())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	// A pure periodic series forecasts its period-ahead values exactly.
	want := []float64{10, 12, 10, 8, 10, 12}
	for h := 1; h <= len(want); h++ {
		got := m.Forecast(h)
		if math.Abs(got-want[h-1]) > 1e-9 {
			t.Fatalf("Forecast(%d) = %v, want %v", h, got, want[h-1])
		}
	}
}

func TestForecastIntervalSymmetric(t *testing.T) {
	m, err := Fit(periodicSeries(3), testConfig())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	point, lower, upper := m.ForecastInterval(1, 0.95)
	if math.Abs((point-lower)-(upper-point)) > 1e-9 {
		t.Fatalf("interval not symmetric: [%v, %v] around %v", lower, upper, point)
	}
	// Zero residuals on a perfect fit collapse the band onto the point.
	if math.Abs(upper-lower) > 1e-9 {
		t.Fatalf("perfect fit should have a degenerate band, got width %v", upper-lower)
	}
}

func TestForecastIntervalWidensWithConfidence(t *testing.T) {
	// Noisy series so residuals are non-zero.
	series := periodicSeries(3)
	series[5] += 3
	series[9] -= 2

	m, err := Fit(series, testConfig())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	_, lo90, hi90 := m.ForecastInterval(1, 0.90)
	_, lo99, hi99 := m.ForecastInterval(1, 0.99)
	if hi99-lo99 <= hi90-lo90 {
		t.Fatalf("99%% band (%v) should be wider than 90%% band (%v)", hi99-lo99, hi90-lo90)
	}
}

func TestDateWhenTargetReachable(t *testing.T) {
	m, err := Fit(periodicSeries(3), testConfig())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	from := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	days, date, err := m.DateWhenTarget(100, 140, from)
	if err != nil {
		t.Fatalf("DateWhenTarget: %v", err)
	}
	// Daily increments 10, 12, 10, 8 accumulate to 40 on day 4.
	if days != 4 {
		t.Fatalf("days = %d, want 4", days)
	}
	if want := from.AddDate(0, 0, 4); !date.Equal(want) {
		t.Fatalf("date = %s, want %s", date, want)
	}
}

func TestDateWhenTargetAlreadyReached(t *testing.T) {
	m, err := Fit(periodicSeries(3), testConfig())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	from := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	days, date, err := m.DateWhenTarget(500, 200, from)
	if err != nil || days != 0 || !date.Equal(from) {
		t.Fatalf("already-reached target should return day 0, got days=%d date=%s err=%v", days, date, err)
	}
}

func TestDateWhenTargetUnreachable(t *testing.T) {
	series := make([]float64, 8) // flat zero growth
	m, err := Fit(series, testConfig())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	_, _, err = m.DateWhenTarget(0, 1_000_000, time.Now())
	if !errors.Is(err, ErrTargetUnreachable) {
		t.Fatalf("expected ErrTargetUnreachable, got %v", err)
	}
}
