package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause every worker sharing the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetWorkerEnabled(cmd.Context(), false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume paused workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetWorkerEnabled(cmd.Context(), true)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		applied, err := getApp().Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}
