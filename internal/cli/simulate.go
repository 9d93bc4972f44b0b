package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"btc-dominance-alerts/internal/app"
)

var (
	simulateDominance       float64
	simulateDominanceChange float64
	simulateAltChange       float64
	simulateSpike           bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一轮行情评估并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateDominance <= 0 || simulateDominance >= 100 {
			return errors.New("--dominance 必须在 (0, 100) 区间内")
		}

		opts := app.SimulateOptions{
			DominanceLevel:     simulateDominance,
			DominanceChangePct: simulateDominanceChange,
			AltChangePct:       simulateAltChange,
			VolumeSpike:        simulateSpike,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateDominance, "dominance", 56, "模拟的 BTC.D 最新值 (%)")
	simulateCmd.Flags().Float64Var(&simulateDominanceChange, "dominance-change", 1, "模拟窗口内 BTC.D 变化 (%)")
	simulateCmd.Flags().Float64Var(&simulateAltChange, "alt-change", 6, "模拟山寨币涨幅 (%)")
	simulateCmd.Flags().BoolVar(&simulateSpike, "spike", false, "模拟成交量异动")
}
