package cli

import (
	"github.com/spf13/cobra"

	"catalyst-catcher/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled pipeline daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one news ingestion and discovery pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().RunSteps(cmd.Context(), service.StepScan)
		return err
	},
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run one lifecycle tracker pass over monitoring hypotheses",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().RunSteps(cmd.Context(), service.StepTrack)
		return err
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Grade due checkpoints in the calibration log",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().RunSteps(cmd.Context(), service.StepVerify)
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the downstream HTTP API only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}
