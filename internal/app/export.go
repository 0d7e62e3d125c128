package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"petition-watcher/internal/analytics"
	"petition-watcher/internal/tick"
)

// Export renders retained ticks and archived daily stats as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	ticks, err := store.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		a.Logger.Info().Msg("no ticks to export")
		return nil
	}

	downsampled := analytics.Downsample(ticks, opts.MaxPoints)
	a.Logger.Info().Int("total", len(ticks)).Int("exported", len(downsampled)).Msg("exporting ticks")

	if opts.CSVPath != "" {
		if err := writeTicksCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		stats, err := store.ListDailyStats(ctx)
		if err != nil {
			return err
		}
		if err := writeTicksPNG(opts.PNGPath, downsampled, stats); err != nil {
			return err
		}
	}

	return nil
}

func writeTicksCSV(path string, ticks []tick.Tick) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"ts", "time", "count"}); err != nil {
		return err
	}

	for _, t := range ticks {
		record := []string{
			strconv.FormatInt(t.TS, 10),
			t.Time().UTC().Format(time.RFC3339),
			strconv.FormatInt(t.Count, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeTicksPNG(path string, ticks []tick.Tick, stats []tick.DailyStat) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(ticks))
	counts := make([]float64, len(ticks))
	for i, t := range ticks {
		x[i] = t.Time()
		counts[i] = float64(t.Count)
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Signatures",
			XValues: x,
			YValues: counts,
		},
	}

	if len(stats) > 0 {
		sx := make([]time.Time, len(stats))
		collected := make([]float64, len(stats))
		for i, st := range stats {
			day, err := time.Parse(tick.DateFormat, st.Date)
			if err != nil {
				continue
			}
			sx[i] = day
			collected[i] = float64(st.Collected)
		}
		series = append(series, chart.TimeSeries{
			Name:    "Collected / day",
			XValues: sx,
			YValues: collected,
			YAxis:   chart.YAxisSecondary,
		})
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Total signatures",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Collected per day",
			ValueFormatter: countFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
