package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"sentinel-oracle/internal/storage"
)

// Export renders recorded verdicts for one asset as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Monitor.PollInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	verdicts, err := store.ListVerdictsBetween(ctx, opts.Asset, from, to)
	if err != nil {
		return err
	}
	if len(verdicts) == 0 {
		a.Logger.Info().Str("asset", opts.Asset).Msg("no verdicts found for export window")
		return nil
	}

	downsampled := downsample(verdicts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(verdicts)).Int("exported", len(downsampled)).Msg("exporting verdicts")

	if opts.CSVPath != "" {
		if err := writeVerdictsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeVerdictsPNG(opts.PNGPath, opts.Asset, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// downsample splits records into max buckets and keeps one row per bucket,
// preferring the first anomalous row so flagged spikes survive.
func downsample(records []storage.VerdictRecord, max int) []storage.VerdictRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.VerdictRecord, 0, max)
	for i := 0; i < max; i++ {
		start := i * len(records) / max
		end := (i + 1) * len(records) / max
		pick := records[end-1]
		for _, r := range records[start:end] {
			if r.IsAnomalous {
				pick = r
				break
			}
		}
		result = append(result, pick)
	}
	return result
}

func writeVerdictsCSV(path string, records []storage.VerdictRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "asset", "price", "z_score", "mean", "std_dev", "samples", "is_anomalous", "severity", "reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		record := []string{
			r.ObservedAt.UTC().Format(time.RFC3339),
			r.Asset,
			r.Price.String(),
			optionalString(r.ZScore),
			optionalString(r.Mean),
			optionalString(r.StdDev),
			strconv.Itoa(r.Samples),
			strconv.FormatBool(r.IsAnomalous),
			r.Severity,
			r.Reason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeVerdictsPNG(path, asset string, records []storage.VerdictRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(records))
	price := make([]float64, 0, len(records))
	zx := make([]time.Time, 0, len(records))
	z := make([]float64, 0, len(records))
	var anomalies []chart.GridLine

	for _, r := range records {
		x = append(x, r.ObservedAt)
		price = append(price, r.Price.InexactFloat64())
		if r.ZScore != nil {
			zx = append(zx, r.ObservedAt)
			z = append(z, r.ZScore.InexactFloat64())
		}
		if r.IsAnomalous {
			anomalies = append(anomalies, chart.GridLine{Value: chart.TimeToFloat64(r.ObservedAt)})
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    asset,
			XValues: x,
			YValues: price,
		},
	}
	if len(z) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "z-score",
			XValues: zx,
			YValues: z,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
			GridLines:      anomalies,
			GridMajorStyle: chart.Style{StrokeColor: chart.ColorRed, StrokeWidth: 1},
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Z-score",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func optionalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
