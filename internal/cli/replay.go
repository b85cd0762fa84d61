package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"sentinel-oracle/internal/app"
)

var (
	replayAsset string
	replayFile  string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "回放历史价格 CSV，账本使用 dry-run",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFile == "" {
			return errors.New("--csv is required")
		}
		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			Asset:   replayAsset,
			CSVPath: replayFile,
		})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayAsset, "asset", "", "Asset symbol the prices belong to")
	replayCmd.Flags().StringVar(&replayFile, "csv", "", "CSV with price or timestamp,price rows")
}
