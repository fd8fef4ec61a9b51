package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"catalyst-catcher/internal/app"
)

var (
	showLimit  int
	showStatus string
)

var showCmd = &cobra.Command{
	Use:       "show catalysts|signals",
	Short:     "Display recent catalysts or signals",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"catalysts", "signals"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Kind:   args[0],
			Status: showStatus,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var (
	statusNotes string
)

var statusCmd = &cobra.Command{
	Use:   "status catalyst|signal <id> <status>",
	Short: "Apply an external status change to a catalyst or signal",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetStatus(cmd.Context(), args[0], args[1], args[2], statusNotes)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showStatus, "status", "", "Only rows with this status")
	statusCmd.Flags().StringVar(&statusNotes, "notes", "", "Operator notes (signals only)")
}
