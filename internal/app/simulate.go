package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"sentinel-oracle/internal/detector"
)

// SimulateAnomaly 通过基线价格加一次尖峰模拟完整的 flag/clear 流程。
// 账本始终为 dry-run；若配置了告警通道则会真实推送。
func (a *App) SimulateAnomaly(ctx context.Context, opts SimulateOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset is required")
	}
	if opts.Base <= 0 || opts.Spike <= 0 {
		return errors.New("--base 与 --spike 必须为正数")
	}

	policy := a.Config.Monitor.Policy()
	points := simulationPoints(opts, policy, a.Config.Monitor.PollInterval, time.Now().UTC())

	summary, err := replayPoints(ctx, os.Stdout, opts.Asset, policy, points, a.newNotifier(), a.Logger)
	if err != nil {
		return err
	}
	for _, v := range summary.flagged {
		fmt.Fprintln(os.Stdout)
		fmt.Fprintln(os.Stdout, detector.Explain(v))
	}
	if summary.flags == 0 {
		a.Logger.Warn().Float64("base", opts.Base).Float64("spike", opts.Spike).Msg("尖峰未触发 flag，请调大 --spike")
	}
	return nil
}

// simulationPoints builds min_samples baseline prices, one spike, then
// baseline prices until the window has room to clear.
func simulationPoints(opts SimulateOptions, policy detector.Policy, step time.Duration, start time.Time) []pricePoint {
	if step <= 0 {
		step = time.Second
	}
	baselineAt := func(i int) float64 {
		if opts.Jitter == 0 {
			return opts.Base
		}
		if i%2 == 0 {
			return opts.Base + opts.Jitter
		}
		return opts.Base - opts.Jitter
	}

	var prices []float64
	for i := 0; i < policy.MinSamples; i++ {
		prices = append(prices, baselineAt(i))
	}
	prices = append(prices, opts.Spike)
	for i := 0; i < 3; i++ {
		prices = append(prices, baselineAt(i))
	}

	points := make([]pricePoint, len(prices))
	for i, p := range prices {
		points[i] = pricePoint{At: start.Add(time.Duration(i) * step), Price: p}
	}
	return points
}
