package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"sentinel-oracle/internal/alerting"
	"sentinel-oracle/internal/detector"
	"sentinel-oracle/internal/engine"
	"sentinel-oracle/internal/fetcher"
	"sentinel-oracle/internal/ledger"
	"sentinel-oracle/internal/status"
)

type pricePoint struct {
	At    time.Time
	Price float64
}

// Replay runs recorded prices through the detector and a dry-run ledger and
// prints one line per observation.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset is required")
	}
	file, err := os.Open(opts.CSVPath)
	if err != nil {
		return fmt.Errorf("open replay csv: %w", err)
	}
	defer file.Close()

	points, err := readPriceCSV(file, a.Config.Monitor.PollInterval)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return errors.New("回放文件中没有价格数据")
	}

	summary, err := replayPoints(ctx, os.Stdout, opts.Asset, a.Config.Monitor.Policy(), points, nil, a.Logger)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int("observations", summary.observations).
		Int("anomalies", summary.anomalies).
		Int("flags", summary.flags).
		Int("clears", summary.clears).
		Int("suppressed", summary.suppressed).
		Msg("回放完成")
	return nil
}

type replaySummary struct {
	observations int
	anomalies    int
	flags        int
	clears       int
	suppressed   int
	flagged      []detector.Verdict
}

func replayPoints(ctx context.Context, out io.Writer, asset string, policy detector.Policy, points []pricePoint, notifier alerting.Notifier, logger zerolog.Logger) (replaySummary, error) {
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}

	var cursor time.Time
	eng := engine.New(engine.Options{
		Assets:  []string{asset},
		Policy:  policy,
		Workers: 1,
		Now:     func() time.Time { return cursor },
	}, fetcher.NewStatic(map[string][]float64{asset: prices}), ledger.NewDryRun(zerolog.Nop()), status.NewStore([]string{asset}, 0), logger).
		WithNotifier(notifier)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice\tZ\tSeverity\tAction\tReason")

	var sum replaySummary
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		cursor = p.At
		res := eng.ProcessAsset(ctx, asset)
		if res.Err != nil {
			return sum, res.Err
		}
		v := res.Verdict
		sum.observations++
		if v.IsAnomalous {
			sum.anomalies++
		}

		action := "-"
		switch {
		case res.Suppressed:
			action = "suppressed"
			sum.suppressed++
		case res.Committed && res.Action == detector.ActionFlag:
			action = "FLAG"
			sum.flags++
			sum.flagged = append(sum.flagged, *v)
		case res.Committed && res.Action == detector.ActionClear:
			action = "CLEAR"
			sum.clears++
		}

		z := "n/a"
		if !v.Insufficient() {
			z = strconv.FormatFloat(v.Z(), 'f', 2, 64)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.At.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			z,
			v.Severity,
			action,
			sanitizeInline(v.Reason),
		)
	}
	return sum, writer.Flush()
}

// readPriceCSV accepts "price" or "timestamp,price" rows. A header row is
// skipped. Timestamps are RFC3339 or unix seconds; rows without one are
// spaced by step from the previous row.
func readPriceCSV(r io.Reader, step time.Duration) ([]pricePoint, error) {
	if step <= 0 {
		step = time.Second
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var (
		points []pricePoint
		last   = time.Unix(0, 0).UTC()
		line   int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read replay csv: %w", err)
		}
		line++
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		priceField := record[len(record)-1]
		price, err := strconv.ParseFloat(strings.TrimSpace(priceField), 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid price %q", line, priceField)
		}

		at := last.Add(step)
		if len(record) > 1 {
			parsed, err := parseTimestamp(record[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			at = parsed
		}
		last = at
		points = append(points, pricePoint{At: at, Price: price})
	}
	return points, nil
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
