package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"catalyst-catcher/internal/app"
)

var (
	exportCatalyst    string
	exportCalibration bool
	exportPNGPath     string
	exportCSVPath     string
	exportMaxPoints   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a validation log or the calibration log as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportCatalyst != "" && exportCalibration {
			return errors.New("--catalyst and --calibration are mutually exclusive")
		}
		opts := app.ExportOptions{
			CatalystID:  exportCatalyst,
			Calibration: exportCalibration,
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			MaxPoints:   exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCatalyst, "catalyst", "", "Catalyst id whose validation log to export")
	exportCmd.Flags().BoolVar(&exportCalibration, "calibration", false, "Export the paper-mode calibration log")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
