package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"btc-dominance-alerts/internal/app"
)

var (
	showLimit   int
	alertsLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent BTC dominance samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recently emitted alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.AlertsOptions{
			Limit: alertsLimit,
		}

		return getApp().Alerts(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
}
