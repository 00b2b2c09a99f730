package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"market-watcher/internal/app"
	"market-watcher/internal/domain"
)

var (
	watchURL          string
	watchCurrency     int
	watchFloatMin     float64
	watchFloatMax     float64
	watchSeeds        []int
	watchStickers     []string
	watchTargetResale string
	watchMinProfit    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage tracked items",
}

var watchAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Track a market listing page",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := watchInput(cmd)
		if err != nil {
			return err
		}
		watch, err := getApp().AddWatch(cmd.Context(), input)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watch %d added: %s\n", watch.ID, watch.MarketHashName)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListWatches(cmd.Context(), cmd.OutOrStdout())
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop tracking an item and drop its snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid watch id %q", args[0])
		}
		return getApp().RemoveWatch(cmd.Context(), id)
	},
}

func watchInput(cmd *cobra.Command) (app.WatchInput, error) {
	resale, err := decimal.NewFromString(watchTargetResale)
	if err != nil {
		return app.WatchInput{}, fmt.Errorf("invalid --target-resale value: %w", err)
	}
	profit, err := decimal.NewFromString(watchMinProfit)
	if err != nil {
		return app.WatchInput{}, fmt.Errorf("invalid --min-profit value: %w", err)
	}

	rules := domain.RuleSet{
		SeedWhitelist:   watchSeeds,
		StickerAny:      watchStickers,
		TargetResaleUSD: resale,
		MinProfitUSD:    profit,
	}
	if cmd.Flags().Changed("float-min") {
		v := watchFloatMin
		rules.FloatMin = &v
	}
	if cmd.Flags().Changed("float-max") {
		v := watchFloatMax
		rules.FloatMax = &v
	}

	return app.WatchInput{URL: watchURL, CurrencyID: watchCurrency, Rules: rules}, nil
}

func init() {
	watchAddCmd.Flags().StringVar(&watchURL, "url", "", "Market listing page URL")
	watchAddCmd.Flags().IntVar(&watchCurrency, "currency", 1, "Steam currency id")
	watchAddCmd.Flags().Float64Var(&watchFloatMin, "float-min", 0, "Minimum float value")
	watchAddCmd.Flags().Float64Var(&watchFloatMax, "float-max", 1, "Maximum float value")
	watchAddCmd.Flags().IntSliceVar(&watchSeeds, "seeds", nil, "Allowed paint seeds")
	watchAddCmd.Flags().StringSliceVar(&watchStickers, "stickers", nil, "Require any of these sticker names")
	watchAddCmd.Flags().StringVar(&watchTargetResale, "target-resale", "", "Expected resale price (USD)")
	watchAddCmd.Flags().StringVar(&watchMinProfit, "min-profit", "0", "Minimum profit after fees (USD)")
	_ = watchAddCmd.MarkFlagRequired("url")
	_ = watchAddCmd.MarkFlagRequired("target-resale")

	watchCmd.AddCommand(watchAddCmd, watchListCmd, watchRemoveCmd)
}
