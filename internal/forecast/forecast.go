package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"petition-watcher/internal/config"
)

var (
	// ErrInsufficientData means the daily series is shorter than two full
	// seasons and no model can be fitted.
	ErrInsufficientData = errors.New("forecast: insufficient data")
	// ErrTargetUnreachable means accumulated forecast growth does not reach
	// the target within the ten-year horizon cap.
	ErrTargetUnreachable = errors.New("forecast: target unreachable")
)

// maxHorizonDays caps dateWhenTarget accumulation at ten years.
const maxHorizonDays = 3650

// zValues maps supported confidence levels to normal quantiles.
var zValues = map[float64]float64{
	0.80: 1.282,
	0.90: 1.645,
	0.95: 1.960,
	0.99: 2.576,
}

// Model is a fitted additive Holt-Winters model over a daily series.
// It is derived per request and never persisted.
type Model struct {
	level    float64
	trend    float64
	seasonal []float64
	period   int
	n        int
	residSD  float64
}

// Fit runs one pass of additive Holt-Winters over series. It requires at
// least two full seasons of observations.
func Fit(series []float64, cfg config.ForecastConfig) (*Model, error) {
	period := cfg.SeasonPeriod
	if period < 2 {
		return nil, fmt.Errorf("%w: season period %d", ErrInsufficientData, period)
	}
	if len(series) < 2*period {
		return nil, fmt.Errorf("%w: %d observations, need %d", ErrInsufficientData, len(series), 2*period)
	}

	m := &Model{
		period:   period,
		n:        len(series),
		seasonal: initialSeasonal(series, period),
		level:    series[0],
		trend:    initialTrend(series, period),
	}

	residuals := make([]float64, 0, len(series))
	for t, x := range series {
		idx := t % period

		// One-step-ahead residual against the pre-update state.
		fitted := m.level + m.trend + m.seasonal[idx]
		residuals = append(residuals, x-fitted)

		prevLevel := m.level
		m.level = cfg.Alpha*(x-m.seasonal[idx]) + (1-cfg.Alpha)*(m.level+m.trend)
		m.trend = cfg.Beta*(m.level-prevLevel) + (1-cfg.Beta)*m.trend
		m.seasonal[idx] = cfg.Gamma*(x-m.level) + (1-cfg.Gamma)*m.seasonal[idx]
	}

	m.residSD = stddev(residuals)
	return m, nil
}

// initialTrend averages the per-position change between the first two
// seasons, scaled to a per-step slope.
func initialTrend(series []float64, period int) float64 {
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += (series[period+i] - series[i]) / float64(period)
	}
	return sum / float64(period)
}

// initialSeasonal derives each position's average deviation from its
// season's mean, over every complete season.
func initialSeasonal(series []float64, period int) []float64 {
	seasons := len(series) / period

	means := make([]float64, seasons)
	for s := 0; s < seasons; s++ {
		sum := 0.0
		for i := 0; i < period; i++ {
			sum += series[s*period+i]
		}
		means[s] = sum / float64(period)
	}

	seasonal := make([]float64, period)
	for i := 0; i < period; i++ {
		sum := 0.0
		for s := 0; s < seasons; s++ {
			sum += series[s*period+i] - means[s]
		}
		seasonal[i] = sum / float64(seasons)
	}
	return seasonal
}

// Forecast projects the series value h steps past the fitted range (h >= 1).
func (m *Model) Forecast(h int) float64 {
	idx := (m.n + h - 1) % m.period
	return m.level + float64(h)*m.trend + m.seasonal[idx]
}

// ForecastInterval returns the point forecast for horizon h with a
// symmetric residual-based confidence band at the requested level.
// Unsupported levels fall back to 0.95.
func (m *Model) ForecastInterval(h int, confidence float64) (point, lower, upper float64) {
	z, ok := zValues[confidence]
	if !ok {
		z = zValues[0.95]
	}
	point = m.Forecast(h)
	spread := z * m.residSD
	return point, point - spread, point + spread
}

// DateWhenTarget accumulates forecasted daily increments on top of current
// until target is reached, returning the day offset and calendar date. The
// horizon is capped at ten years.
func (m *Model) DateWhenTarget(current, target float64, from time.Time) (int, time.Time, error) {
	if current >= target {
		return 0, from, nil
	}

	running := current
	for h := 1; h <= maxHorizonDays; h++ {
		inc := m.Forecast(h)
		if inc > 0 {
			running += inc
		}
		if running >= target {
			return h, from.AddDate(0, 0, h), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("%w: target %.0f from %.0f", ErrTargetUnreachable, target, current)
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
