package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-oracle/internal/storage"
)

// Show prints recent verdicts for an asset, or recent ledger actions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Actions {
		actions, err := store.ListRecentActions(ctx, opts.Asset, opts.Limit)
		if err != nil {
			return err
		}
		return printActions(os.Stdout, actions)
	}

	if opts.Asset == "" {
		return errors.New("--asset is required unless --actions is set")
	}
	verdicts, err := store.ListRecentVerdicts(ctx, opts.Asset, opts.Limit)
	if err != nil {
		return err
	}
	return printVerdicts(os.Stdout, verdicts)
}

func printVerdicts(out io.Writer, verdicts []storage.VerdictRecord) error {
	if len(verdicts) == 0 {
		fmt.Fprintln(out, "no verdicts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tPrice\tZ\tAnomalous\tSeverity\tReason")
	for _, v := range verdicts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			v.ObservedAt.UTC().Format(time.RFC3339),
			v.Asset,
			v.Price.StringFixed(4),
			formatOptional(v.ZScore, 2),
			v.IsAnomalous,
			v.Severity,
			sanitizeInline(v.Reason),
		)
	}
	return writer.Flush()
}

func printActions(out io.Writer, actions []storage.ActionRecord) error {
	if len(actions) == 0 {
		fmt.Fprintln(out, "no ledger actions found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tKind\tStatus\tTx\tError")
	for _, act := range actions {
		tx, errMsg := "", ""
		if act.TxHash != nil {
			tx = *act.TxHash
		}
		if act.Error != nil {
			errMsg = sanitizeInline(*act.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			act.RequestedAt.UTC().Format(time.RFC3339),
			act.Asset,
			act.Kind,
			act.Status,
			tx,
			errMsg,
		)
	}
	return writer.Flush()
}

func formatOptional(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "n/a"
	}
	return d.StringFixed(places)
}
