package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"petition-watcher/internal/forecast"
	"petition-watcher/internal/tick"
)

// Forecast fits the Holt-Winters model over archived daily stats and prints
// the projection for the requested target.
func (a *App) Forecast(ctx context.Context, opts ForecastOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stats, err := store.ListDailyStats(ctx)
	if err != nil {
		return err
	}

	series := make([]float64, len(stats))
	for i, st := range stats {
		series[i] = float64(st.Collected)
	}

	model, err := forecast.Fit(series, a.Config.Forecast)
	if err != nil {
		if errors.Is(err, forecast.ErrInsufficientData) {
			fmt.Fprintf(os.Stdout, "forecast unavailable: %d archived days, need %d\n",
				len(series), 2*a.Config.Forecast.SeasonPeriod)
			return nil
		}
		return err
	}

	confidence := opts.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = a.Config.Forecast.Confidence
	}

	now := time.Now()
	fmt.Fprintf(os.Stdout, "next %d days (confidence %.0f%%):\n", a.Config.Forecast.SeasonPeriod, confidence*100)
	for h := 1; h <= a.Config.Forecast.SeasonPeriod; h++ {
		point, lower, upper := model.ForecastInterval(h, confidence)
		fmt.Fprintf(os.Stdout, "  %s  %8.0f  [%8.0f, %8.0f]\n",
			now.AddDate(0, 0, h).Format(tick.DateFormat), point, lower, upper)
	}

	if opts.Target <= 0 {
		return nil
	}

	current := 0.0
	if ticks, readErr := store.ReadAll(ctx); readErr == nil && len(ticks) > 0 {
		current = float64(ticks[len(ticks)-1].Count)
	} else if len(stats) > 0 {
		current = float64(stats[len(stats)-1].EndCount)
	}

	days, date, err := model.DateWhenTarget(current, opts.Target, now)
	if err != nil {
		if errors.Is(err, forecast.ErrTargetUnreachable) {
			fmt.Fprintf(os.Stdout, "target %.0f unreachable within ten years\n", opts.Target)
			return nil
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "target %.0f reached in %d days, on %s\n", opts.Target, days, date.Format(tick.DateFormat))
	return nil
}
