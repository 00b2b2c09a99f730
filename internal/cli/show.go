package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-watcher/internal/app"
)

var (
	showLimit   int
	showWatchID int64
	showAlerts  bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent listing snapshots or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			WatchID: showWatchID,
			Alerts:  showAlerts,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().Int64Var(&showWatchID, "watch", 0, "Only show snapshots of this watch")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show sent alerts instead of snapshots")
}
