package cli

import (
	"github.com/spf13/cobra"

	"ohio-rate-watch/internal/app"
)

var (
	runDryRun     bool
	runForceAlert bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the ingestion pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RunOnceOptions{
			DryRun:     runDryRun,
			ForceAlert: runForceAlert,
		}
		return getApp().RunOnce(cmd.Context(), opts)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Run every stage except persistence, mark-alerted, and delivery")
	runCmd.Flags().BoolVar(&runForceAlert, "force-alert", false, "Inject one synthetic rate event to exercise the alert path")
}
