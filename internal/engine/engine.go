package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sentinel-oracle/internal/alerting"
	"sentinel-oracle/internal/detector"
	"sentinel-oracle/internal/fetcher"
	"sentinel-oracle/internal/ledger"
	"sentinel-oracle/internal/metrics"
	"sentinel-oracle/internal/scheduler"
	"sentinel-oracle/internal/status"
	"sentinel-oracle/internal/storage"
)

// Options tune the engine.
type Options struct {
	Assets        []string
	Policy        detector.Policy
	Workers       int
	FetchTimeout  time.Duration
	LedgerTimeout time.Duration
	SinkTimeout   time.Duration
	NotifyTimeout time.Duration
	// LockKey enables the postgres advisory lock around each cycle when non-zero.
	LockKey int64
	// Now overrides the wall clock, mainly for tests and replays.
	Now func() time.Time
}

// AssetResult describes what one asset did during a cycle.
type AssetResult struct {
	Asset      string
	Verdict    *detector.Verdict
	Action     detector.ActionKind
	Committed  bool
	Suppressed bool
	Skipped    bool
	TxHash     string
	Err        error
	SinkErr    error
}

// CycleReport summarises one polling cycle.
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Results   []AssetResult
}

// Failed counts assets whose fetch or ledger dispatch failed.
func (r CycleReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil && !res.Skipped {
			n++
		}
	}
	return n
}

// Actions counts committed ledger actions.
func (r CycleReport) Actions() int {
	n := 0
	for _, res := range r.Results {
		if res.Committed {
			n++
		}
	}
	return n
}

type slot struct {
	mu    sync.Mutex
	state *detector.AssetState
}

// Engine polls every asset, drives its state machine and dispatches ledger actions.
type Engine struct {
	opts     Options
	source   fetcher.PriceSource
	ledger   ledger.Ledger
	sink     status.Sink
	notifier alerting.Notifier
	actions  storage.ActionStore
	locker   storage.AdvisoryLocker
	metrics  *metrics.Recorder
	logger   zerolog.Logger

	order []string
	slots map[string]*slot
}

// New constructs the engine with one AssetState per configured asset.
func New(opts Options, source fetcher.PriceSource, l ledger.Ledger, sink status.Sink, logger zerolog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = 60 * time.Second
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 2 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		opts:     opts,
		source:   source,
		ledger:   l,
		sink:     sink,
		notifier: alerting.Noop{},
		logger:   logger.With().Str("component", "engine").Logger(),
		slots:    make(map[string]*slot, len(opts.Assets)),
	}
	for _, asset := range opts.Assets {
		if _, dup := e.slots[asset]; dup {
			continue
		}
		e.order = append(e.order, asset)
		e.slots[asset] = &slot{state: detector.NewAssetState(asset, opts.Policy)}
	}
	return e
}

// WithNotifier sets the notifier for confirmed actions.
func (e *Engine) WithNotifier(n alerting.Notifier) *Engine {
	if n != nil {
		e.notifier = n
	}
	return e
}

// WithActionStore records every dispatch attempt.
func (e *Engine) WithActionStore(s storage.ActionStore) *Engine {
	e.actions = s
	return e
}

// WithLocker guards each cycle with an advisory lock so only one replica dispatches.
func (e *Engine) WithLocker(l storage.AdvisoryLocker) *Engine {
	e.locker = l
	return e
}

// WithMetrics attaches a metrics recorder.
func (e *Engine) WithMetrics(m *metrics.Recorder) *Engine {
	e.metrics = m
	return e
}

// Assets returns the monitored assets in configuration order.
func (e *Engine) Assets() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Run seeds flag state and then drives cycles from the scheduler until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := e.Sync(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("startup flag sync incomplete")
	}
	return sched.Run(ctx, e.Tick)
}

// Tick runs one cycle under the advisory lock, if configured.
func (e *Engine) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		e.logger.Debug().Time("tick", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report := e.RunCycle(ctx)
	e.logger.Info().
		Time("tick", at).
		Dur("took", report.Duration).
		Int("assets", len(report.Results)).
		Int("failed", report.Failed()).
		Int("actions", report.Actions()).
		Msg("cycle complete")
	return nil
}

// Sync seeds each asset's flagged phase from the price source when it can
// report the ledger's current flag status.
func (e *Engine) Sync(ctx context.Context) error {
	reader, ok := e.source.(fetcher.FlagStatusReader)
	if !ok {
		return nil
	}

	var errs []error
	for _, asset := range e.order {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		flagged, err := reader.FlagStatus(callCtx, asset)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset, err))
			continue
		}

		s := e.slots[asset]
		s.mu.Lock()
		s.state.Restore(flagged)
		s.mu.Unlock()

		e.metrics.SetFlagged(asset, flagged)
		e.trackFlag(asset, flagged)
		e.logger.Info().Str("asset", asset).Bool("flagged", flagged).Msg("restored flag state")
	}
	return errors.Join(errs...)
}

// RunCycle processes every asset once on a bounded worker pool. Once ctx is
// cancelled, assets that have not started are skipped; assets already in
// progress finish their fetch, publish and dispatch under the per-call timeouts.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	started := time.Now()
	report := CycleReport{
		StartedAt: e.opts.Now(),
		Results:   make([]AssetResult, len(e.order)),
	}
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, asset := range e.order {
		if ctx.Err() != nil {
			report.Results[i] = AssetResult{Asset: asset, Skipped: true, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				report.Results[i] = AssetResult{Asset: asset, Skipped: true, Err: ctx.Err()}
				return nil
			}
			report.Results[i] = e.ProcessAsset(work, asset)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	e.metrics.CycleDone(report.Duration)
	return report
}

// ProcessAsset runs fetch, observe, publish and dispatch for one asset. Calls
// for the same asset are serialised.
func (e *Engine) ProcessAsset(ctx context.Context, asset string) AssetResult {
	res := AssetResult{Asset: asset}
	s, ok := e.slots[asset]
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
		return res
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log := e.logger.With().Str("asset", asset).Logger()

	price, err := e.fetch(ctx, asset)
	if err != nil {
		e.metrics.FetchFailed(asset)
		log.Warn().Err(err).Msg("price fetch failed, skipping asset this cycle")
		res.Err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		return res
	}

	out := s.state.Observe(price, e.opts.Now())
	v := out.Verdict
	res.Verdict = &v
	res.Suppressed = out.Suppressed
	e.metrics.ObserveVerdict(asset, v.Insufficient(), v.IsAnomalous, v.Severity.String(), v.Z())

	ev := log.Debug()
	if v.IsAnomalous {
		ev = log.Info()
	}
	ev.Float64("price", price).
		Float64("z", v.Z()).
		Bool("anomalous", v.IsAnomalous).
		Str("severity", v.Severity.String()).
		Msg(v.Reason)

	if err := e.publish(ctx, v); err != nil {
		e.metrics.SinkFailed(asset)
		log.Warn().Err(err).Msg("status publish failed")
		res.SinkErr = fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	if out.Suppressed {
		e.metrics.FlagSuppressed(asset)
		log.Info().Time("last_flag", s.state.LastFlagTime()).Msg("flag suppressed by cooldown")
	}
	if out.Action == nil {
		return res
	}

	req := out.Action
	res.Action = req.Kind
	receipt, err := e.dispatch(ctx, req)
	confirmedAt := e.opts.Now()
	e.metrics.LedgerAction(asset, req.Kind.String(), err == nil)
	e.recordAction(ctx, req, receipt, err, confirmedAt)
	if err != nil {
		log.Error().Err(err).Str("action", req.Kind.String()).Str("action_id", req.ID).Msg("ledger dispatch failed, state unchanged")
		res.Err = fmt.Errorf("%w: %w", ErrLedgerDispatchFailed, err)
		return res
	}

	s.state.Commit(req.Kind, confirmedAt)
	res.Committed = true
	res.TxHash = receipt.TxHash
	flagged := s.state.Flagged()
	e.metrics.SetFlagged(asset, flagged)
	e.trackFlag(asset, flagged)
	log.Info().
		Str("action", req.Kind.String()).
		Str("action_id", req.ID).
		Str("tx", receipt.TxHash).
		Uint64("block", receipt.Block).
		Msg("ledger action confirmed")

	e.notify(ctx, alerting.ActionEvent{
		ActionID:    req.ID,
		Asset:       asset,
		Kind:        req.Kind,
		Reason:      req.Reason,
		TxHash:      receipt.TxHash,
		ConfirmedAt: confirmedAt,
		Verdict:     req.Verdict,
	}, log)
	return res
}

func (e *Engine) fetch(ctx context.Context, asset string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()
	price, err := e.source.Fetch(callCtx, asset)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	return price, nil
}

func (e *Engine) publish(ctx context.Context, v detector.Verdict) error {
	if e.sink == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.SinkTimeout)
	defer cancel()
	return e.sink.Publish(callCtx, v)
}

func (e *Engine) dispatch(ctx context.Context, req *detector.ActionRequest) (ledger.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.LedgerTimeout)
	defer cancel()
	switch req.Kind {
	case detector.ActionFlag:
		return e.ledger.Flag(callCtx, req.Asset, req.Reason)
	case detector.ActionClear:
		return e.ledger.Clear(callCtx, req.Asset)
	default:
		return ledger.Receipt{}, fmt.Errorf("unsupported action %s", req.Kind)
	}
}

func (e *Engine) recordAction(ctx context.Context, req *detector.ActionRequest, receipt ledger.Receipt, dispatchErr error, at time.Time) {
	if e.actions == nil {
		return
	}
	rec := storage.ActionRecord{
		ActionID:    req.ID,
		Asset:       req.Asset,
		Kind:        req.Kind.String(),
		Reason:      req.Reason,
		Status:      storage.ActionStatusConfirmed,
		RequestedAt: at,
	}
	if dispatchErr != nil {
		msg := dispatchErr.Error()
		rec.Status = storage.ActionStatusFailed
		rec.Error = &msg
	} else if receipt.TxHash != "" {
		tx := receipt.TxHash
		rec.TxHash = &tx
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.SinkTimeout)
	defer cancel()
	if _, err := e.actions.RecordAction(callCtx, rec); err != nil {
		e.logger.Error().Err(err).Str("asset", req.Asset).Str("action_id", req.ID).Msg("failed to persist ledger action")
	}
}

func (e *Engine) notify(ctx context.Context, event alerting.ActionEvent, log zerolog.Logger) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.NotifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(callCtx, event); err != nil {
		log.Error().Err(err).Msg("failed to dispatch alert")
	}
}

func (e *Engine) trackFlag(asset string, flagged bool) {
	if t, ok := e.sink.(status.FlagTracker); ok {
		t.SetFlagged(asset, flagged)
	}
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.opts.LockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
