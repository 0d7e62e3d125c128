package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"petition-watcher/internal/config"
	"petition-watcher/internal/tick"
)

// Confidence labels for a window's observation count.
const (
	ConfidenceReliable    = "reliable"
	ConfidenceStabilizing = "stabilizing"
	ConfidenceWarmingUp   = "warming up"
)

// WindowCounts exposes per-window observation counts.
type WindowCounts struct {
	Second int `json:"second"`
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
	Day    int `json:"day"`
}

// WindowConfidence labels each window from the configured thresholds.
type WindowConfidence struct {
	Second string `json:"second"`
	Minute string `json:"minute"`
	Hour   string `json:"hour"`
	Day    string `json:"day"`
}

// Rates carries the windowed signature rates. Values are clamped to zero so
// an upstream reset never surfaces as a negative rate.
type Rates struct {
	PerSecond  decimal.Decimal  `json:"perSecond"`
	PerMinute  decimal.Decimal  `json:"perMinute"`
	PerHour    decimal.Decimal  `json:"perHour"`
	PerDay     decimal.Decimal  `json:"perDay"`
	DataPoints WindowCounts     `json:"dataPointsPerWindow"`
	Confidence WindowConfidence `json:"confidencePerWindow"`
}

// TodayStats summarises collection progress for the current local day.
type TodayStats struct {
	Collected     int64  `json:"collected"`
	Baseline      int64  `json:"baseline"`
	HasBaseline   bool   `json:"hasBaseline"`
	DataPoints    int    `json:"dataPoints"`
	UntilRollover string `json:"untilRollover"`
	RolloverInMs  int64  `json:"rolloverInMs"`
}

// ComputeRates derives signature rates over the four configured trailing
// windows. Ticks must be sorted ascending by TS. A window holding fewer than
// two points falls back to the two most recent ticks overall.
func ComputeRates(now time.Time, ticks []tick.Tick, cfg config.AnalyticsConfig) Rates {
	nowMs := now.UnixMilli()

	secRate, secN := rateOver(ticks, nowMs, cfg.SecondWindow, time.Second)
	minRate, minN := rateOver(ticks, nowMs, cfg.MinuteWindow, time.Minute)
	hourRate, hourN := rateOver(ticks, nowMs, cfg.HourWindow, time.Hour)
	dayRate, dayN := rateOver(ticks, nowMs, cfg.DayWindow, 24*time.Hour)

	return Rates{
		PerSecond: secRate,
		PerMinute: minRate,
		PerHour:   hourRate,
		PerDay:    dayRate,
		DataPoints: WindowCounts{
			Second: secN,
			Minute: minN,
			Hour:   hourN,
			Day:    dayN,
		},
		Confidence: WindowConfidence{
			Second: confidenceFor(secN, cfg),
			Minute: confidenceFor(minN, cfg),
			Hour:   confidenceFor(hourN, cfg),
			Day:    confidenceFor(dayN, cfg),
		},
	}
}

// rateOver returns the signature rate scaled to unit, plus the number of
// ticks observed inside the window.
func rateOver(ticks []tick.Tick, nowMs int64, window, unit time.Duration) (decimal.Decimal, int) {
	cutoff := nowMs - window.Milliseconds()
	from := sort.Search(len(ticks), func(i int) bool { return ticks[i].TS >= cutoff })
	inWindow := ticks[from:]

	observed := len(inWindow)
	span := inWindow
	if observed < 2 {
		if len(ticks) < 2 {
			return decimal.Zero, observed
		}
		span = ticks[len(ticks)-2:]
	}

	first, last := span[0], span[len(span)-1]
	elapsed := last.TS - first.TS
	if elapsed <= 0 {
		return decimal.Zero, observed
	}

	rate := decimal.NewFromInt(last.Count - first.Count).
		Div(decimal.NewFromInt(elapsed)).
		Mul(decimal.NewFromInt(unit.Milliseconds()))
	if rate.IsNegative() {
		return decimal.Zero, observed
	}
	return rate, observed
}

func confidenceFor(points int, cfg config.AnalyticsConfig) string {
	switch {
	case points >= cfg.ReliablePoints:
		return ConfidenceReliable
	case points >= cfg.StabilizingPoints:
		return ConfidenceStabilizing
	default:
		return ConfidenceWarmingUp
	}
}

// ComputeTodayStats derives today's net collection against the day-start
// baseline. Ticks must be sorted ascending by TS; dayStart is local midnight.
func ComputeTodayStats(now time.Time, ticks []tick.Tick, dayStart time.Time) TodayStats {
	startMs := dayStart.UnixMilli()
	// Next local midnight via AddDate; transition days are not 24h long.
	rollover := dayStart.AddDate(0, 0, 1).Sub(now)
	if rollover < 0 {
		rollover = 0
	}

	stats := TodayStats{
		UntilRollover: rollover.Truncate(time.Second).String(),
		RolloverInMs:  rollover.Milliseconds(),
	}

	for _, t := range ticks {
		if t.TS < startMs {
			continue
		}
		if !stats.HasBaseline {
			stats.Baseline = t.Count
			stats.HasBaseline = true
		}
		stats.DataPoints++
	}

	if stats.HasBaseline && len(ticks) > 0 {
		stats.Collected = ticks[len(ticks)-1].Count - stats.Baseline
		if stats.Collected < 0 {
			stats.Collected = 0
		}
	}

	return stats
}

// Downsample thins ticks to at most max points, evenly spaced, always
// keeping the first and last observations.
func Downsample(ticks []tick.Tick, max int) []tick.Tick {
	if max <= 0 || len(ticks) <= max {
		return ticks
	}
	if max == 1 {
		return ticks[len(ticks)-1:]
	}

	result := make([]tick.Tick, 0, max)
	step := float64(len(ticks)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(ticks) {
			idx = len(ticks) - 1
		}
		result = append(result, ticks[idx])
	}
	return result
}
