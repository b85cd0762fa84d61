package cli

import (
	"github.com/spf13/cobra"

	"sentinel-oracle/internal/app"
)

var (
	simulateAsset  string
	simulateBase   float64
	simulateSpike  float64
	simulateJitter float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-anomaly",
	Short: "模拟一次价格尖峰，走完 flag 与 clear 流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAnomaly(cmd.Context(), app.SimulateOptions{
			Asset:  simulateAsset,
			Base:   simulateBase,
			Spike:  simulateSpike,
			Jitter: simulateJitter,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "BTC/USD", "Asset symbol")
	simulateCmd.Flags().Float64Var(&simulateBase, "base", 100, "基线价格")
	simulateCmd.Flags().Float64Var(&simulateSpike, "spike", 200, "尖峰价格")
	simulateCmd.Flags().Float64Var(&simulateJitter, "jitter", 1, "基线上下抖动幅度")
}
