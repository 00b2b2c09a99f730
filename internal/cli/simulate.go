package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"market-watcher/internal/app"
)

var (
	simulateWatchID int64
	simulatePrice   string
	simulateFloat   float64
	simulateSeed    int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用一条合成 listing 触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil || !price.IsPositive() {
			return errors.New("--price 必须为大于 0 的美元金额")
		}
		if simulateFloat < 0 || simulateFloat > 1 {
			return errors.New("--float 必须在 [0,1] 内")
		}

		decision, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			WatchID:    simulateWatchID,
			PriceCents: price.Shift(2).RoundBank(0).IntPart(),
			Float:      simulateFloat,
			Seed:       simulateSeed,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "alert sent, delivery id %s\n", decision.Alert.DeliveryID)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateWatchID, "watch", 0, "使用该 watch 的规则 (默认使用内置示例)")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "40.00", "listing 价格 (USD)")
	simulateCmd.Flags().Float64Var(&simulateFloat, "float", 0.25, "float 值")
	simulateCmd.Flags().IntVar(&simulateSeed, "seed", 661, "paint seed")
}
