package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sentinel-oracle/internal/alerting"
	"sentinel-oracle/internal/api"
	"sentinel-oracle/internal/config"
	"sentinel-oracle/internal/engine"
	"sentinel-oracle/internal/fetcher"
	"sentinel-oracle/internal/ledger"
	"sentinel-oracle/internal/metrics"
	"sentinel-oracle/internal/scheduler"
	"sentinel-oracle/internal/status"
	"sentinel-oracle/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() (fetcher.PriceSource, error) {
	switch a.Config.Source.Kind {
	case config.SourceOracle:
		eth := a.Config.Ethereum
		return fetcher.NewOracle(fetcher.OracleOptions{
			RPCURL:        eth.RPCURL,
			OracleAddress: eth.OracleAddress,
			PriceDecimals: eth.PriceDecimals,
			MaxAge:        eth.MaxPriceAge,
			Timeout:       eth.RequestTimeout,
		}, a.Logger), nil
	case config.SourceHermes:
		h := a.Config.Source.Hermes
		return fetcher.NewHermes(fetcher.HermesOptions{
			BaseURL:   h.BaseURL,
			Feeds:     h.FeedMap(),
			Timeout:   h.Timeout,
			UserAgent: h.UserAgent,
			RateLimit: h.RateLimit,
			MaxRetry:  h.MaxRetry,
		}, a.Logger), nil
	case config.SourceStatic:
		scripts := make(map[string][]float64, len(a.Config.Source.Static))
		for _, s := range a.Config.Source.Static {
			scripts[s.Asset] = s.Prices
		}
		return fetcher.NewStatic(scripts), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", a.Config.Source.Kind)
	}
}

func (a *App) newLedger() (ledger.Ledger, error) {
	if a.Config.Ledger.Mode == config.LedgerDryRun {
		a.Logger.Warn().Msg("ledger.mode=dry-run; flag/clear actions will not reach the chain")
		return ledger.NewDryRun(a.Logger), nil
	}
	eth := a.Config.Ethereum
	return ledger.NewEthereum(ledger.EthereumOptions{
		RPCURL:         eth.RPCURL,
		OracleAddress:  eth.OracleAddress,
		PrivateKey:     eth.PrivateKey,
		ChainID:        eth.ChainID,
		FlagGasLimit:   eth.FlagGasLimit,
		ClearGasLimit:  eth.ClearGasLimit,
		PollInterval:   eth.ReceiptPollInterval,
		RequestTimeout: eth.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return alerting.Noop{}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if dir := a.Config.Database.MigrationsPath; dir != "" {
		n, err := store.Migrate(ctx, dir)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		a.Logger.Debug().Int("files", n).Str("dir", dir).Msg("数据库迁移完成")
	}
	return store, store.Close, nil
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", a.Config.Redis.Addr, err)
	}
	return rdb, nil
}

func (a *App) engineOptions() engine.Options {
	m := a.Config.Monitor
	return engine.Options{
		Assets:        m.Assets,
		Policy:        m.Policy(),
		Workers:       m.Workers,
		FetchTimeout:  m.FetchTimeout,
		LedgerTimeout: m.LedgerTimeout,
		SinkTimeout:   m.SinkTimeout,
		NotifyTimeout: a.Config.Alerting.Timeout,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rdb, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	source, err := a.newSource()
	if err != nil {
		return err
	}
	l, err := a.newLedger()
	if err != nil {
		return err
	}

	rec := metrics.New()
	live := status.NewStore(a.Config.Monitor.Assets, a.Config.API.HistoryLimit)
	sinks := status.Fanout{live}
	if rdb != nil {
		sinks = append(sinks, status.NewRedisMirror(rdb, a.Config.Redis.KeyPrefix, a.Config.Redis.HistoryLimit, a.Logger))
	}
	if store != nil {
		sinks = append(sinks, store)
	}

	eng := engine.New(a.engineOptions(), source, l, sinks, a.Logger).
		WithNotifier(a.newNotifier()).
		WithMetrics(rec)
	if store != nil {
		eng.WithActionStore(store).WithLocker(store)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Monitor.PollInterval,
		AlignToStart:   a.Config.Scheduler.AlignToInterval,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Strs("assets", eng.Assets()).Dur("poll_interval", sched.Interval()).Msg("starting monitoring engine")
		return eng.Run(gctx, sched)
	})
	if a.Config.API.Enabled {
		srv := api.New(api.Options{Listen: a.Config.API.Listen}, live, rec, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if store != nil && a.Config.Database.Retention > 0 {
		p := &pruner{store: store, retention: a.Config.Database.Retention, logger: a.Logger.With().Str("task", "retention").Logger()}
		g.Go(func() error { return p.run(gctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting recorded verdicts.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset   string
	Limit   int
	Actions bool
}

// ReplayOptions configure an offline replay of recorded prices.
type ReplayOptions struct {
	Asset   string
	CSVPath string
}

// SimulateOptions configure the simulate-anomaly command.
type SimulateOptions struct {
	Asset string
	Base  float64
	Spike float64
	// Jitter alternates the baseline by ±Jitter so the window has non-zero spread.
	Jitter float64
}
