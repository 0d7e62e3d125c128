package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent ticks and archived daily stats.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
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
		fmt.Fprintln(os.Stdout, "no ticks found")
	} else {
		if opts.Limit > 0 && len(ticks) > opts.Limit {
			ticks = ticks[len(ticks)-opts.Limit:]
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tTS\tCount")
		for _, t := range ticks {
			fmt.Fprintf(writer, "%s\t%d\t%d\n", t.Time().UTC().Format(time.RFC3339), t.TS, t.Count)
		}
		writer.Flush()
	}

	stats, err := store.ListDailyStats(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tStart\tEnd\tCollected\tPoints")
	for _, st := range stats {
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\n", st.Date, st.StartCount, st.EndCount, st.Collected, st.DataPoints)
	}
	return writer.Flush()
}
