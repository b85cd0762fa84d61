package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sentinel-oracle/internal/app"
)

var (
	showAsset   string
	showLimit   int
	showActions bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent verdicts or ledger actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Asset:   showAsset,
			Limit:   showLimit,
			Actions: showActions,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Asset symbol, e.g. BTC/USD")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showActions, "actions", false, "Show ledger actions instead of verdicts")
}
