package fetcher

import (
	"context"
)

// PriceSource retrieves the current price of an asset.
type PriceSource interface {
	Fetch(ctx context.Context, asset string) (float64, error)
}

// FlagStatusReader is implemented by sources that can also report the
// ledger's current anomaly flag for an asset.
type FlagStatusReader interface {
	FlagStatus(ctx context.Context, asset string) (bool, error)
}
