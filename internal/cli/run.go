package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the listing watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single polling cycle and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Once(cmd.Context(), cmd.OutOrStdout())
	},
}
