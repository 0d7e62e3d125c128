package cli

import (
	"github.com/spf13/cobra"

	"petition-watcher/internal/app"
)

var (
	forecastTarget     float64
	forecastConfidence float64
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project future signature totals from archived daily stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Forecast(cmd.Context(), app.ForecastOptions{
			Target:     forecastTarget,
			Confidence: forecastConfidence,
		})
	},
}

func init() {
	forecastCmd.Flags().Float64Var(&forecastTarget, "target", 0, "Signature total to project a date for")
	forecastCmd.Flags().Float64Var(&forecastConfidence, "confidence", 0, "Confidence level in (0,1) (defaults to config)")
}
