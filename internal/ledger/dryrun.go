package ledger

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DryRun confirms every request without touching a chain. Used for replay,
// simulation, and deployments without a signing key.
type DryRun struct {
	logger zerolog.Logger
	seq    atomic.Uint64
}

// NewDryRun builds a logging-only ledger.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Str("component", "ledger_dryrun").Logger()}
}

// Flag logs the request and returns a synthetic receipt.
func (d *DryRun) Flag(ctx context.Context, asset, reason string) (Receipt, error) {
	r := d.next()
	d.logger.Info().Str("asset", asset).Str("reason", reason).Str("tx", r.TxHash).Msg("dry-run flag")
	return r, nil
}

// Clear logs the request and returns a synthetic receipt.
func (d *DryRun) Clear(ctx context.Context, asset string) (Receipt, error) {
	r := d.next()
	d.logger.Info().Str("asset", asset).Str("tx", r.TxHash).Msg("dry-run clear")
	return r, nil
}

func (d *DryRun) next() Receipt {
	n := d.seq.Add(1)
	return Receipt{TxHash: fmt.Sprintf("dry-run-%d", n), Block: n}
}

var _ Ledger = (*DryRun)(nil)
