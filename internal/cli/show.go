package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ohio-rate-watch/internal/app"
)

var (
	showRuns   int
	showEvents int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the recent run ledger and rate events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showRuns <= 0 {
			return fmt.Errorf("--runs must be greater than zero")
		}

		opts := app.ShowOptions{
			Runs:   showRuns,
			Events: showEvents,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showRuns, "runs", 10, "Number of runs to display")
	showCmd.Flags().IntVar(&showEvents, "events", 20, "Number of rate events to display (0 to skip)")
}
