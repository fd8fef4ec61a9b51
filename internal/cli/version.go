package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"catalyst-catcher/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	// runs without a config file
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "catalyst %s\n", version.Version)
		fmt.Fprintf(out, "commit:     %s\n", version.Commit)
		fmt.Fprintf(out, "built:      %s\n", version.BuildDate)
		fmt.Fprintf(out, "user agent: %s\n", version.UserAgent())
	},
}
