package cli

import (
	"github.com/spf13/cobra"
)

var (
	watchlistEnabledOnly bool
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage watchlist assets",
}

var watchlistImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert assets from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ImportWatchlist(cmd.Context(), args[0])
	},
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListWatchlist(cmd.Context(), watchlistEnabledOnly)
	},
}

func init() {
	watchlistListCmd.Flags().BoolVar(&watchlistEnabledOnly, "enabled", false, "Only enabled assets")
	watchlistCmd.AddCommand(watchlistImportCmd)
	watchlistCmd.AddCommand(watchlistListCmd)
}
