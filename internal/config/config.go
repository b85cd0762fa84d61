package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sentinel-oracle/internal/detector"
	"sentinel-oracle/internal/logging"
)

// Source kinds.
const (
	SourceOracle = "oracle"
	SourceHermes = "hermes"
	SourceStatic = "static"
)

// Ledger modes.
const (
	LedgerEthereum = "ethereum"
	LedgerDryRun   = "dry-run"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	API       APIConfig       `mapstructure:"api"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// MonitorConfig holds the detection parameters and the asset list.
type MonitorConfig struct {
	Assets         []string      `mapstructure:"assets"`
	Threshold      float64       `mapstructure:"threshold"`
	ClearThreshold float64       `mapstructure:"clear_threshold"`
	WindowCapacity int           `mapstructure:"window_capacity"`
	MinSamples     int           `mapstructure:"min_samples"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Workers        int           `mapstructure:"workers"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	LedgerTimeout  time.Duration `mapstructure:"ledger_timeout"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Policy converts the monitor section into detector parameters.
func (m MonitorConfig) Policy() detector.Policy {
	return detector.Policy{
		Threshold:      m.Threshold,
		ClearThreshold: m.ClearThreshold,
		Capacity:       m.WindowCapacity,
		MinSamples:     m.MinSamples,
		Cooldown:       m.Cooldown,
	}
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig selects the price source.
type SourceConfig struct {
	Kind   string         `mapstructure:"kind"`
	Hermes HermesConfig   `mapstructure:"hermes"`
	Static []StaticScript `mapstructure:"static"`
}

// HermesConfig configures the Pyth Hermes fetcher.
type HermesConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Feeds     []FeedConfig  `mapstructure:"feeds"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxRetry  time.Duration `mapstructure:"max_retry"`
	UserAgent string        `mapstructure:"user_agent"`
}

// FeedConfig maps an asset to a Hermes feed id. A list rather than a map
// because viper lowercases keys and splits them on dots.
type FeedConfig struct {
	Asset string `mapstructure:"asset"`
	ID    string `mapstructure:"id"`
}

// StaticScript is a scripted price series for the static source.
type StaticScript struct {
	Asset  string    `mapstructure:"asset"`
	Prices []float64 `mapstructure:"prices"`
}

// FeedMap returns feeds keyed by asset.
func (h HermesConfig) FeedMap() map[string]string {
	out := make(map[string]string, len(h.Feeds))
	for _, f := range h.Feeds {
		out[f.Asset] = f.ID
	}
	return out
}

// EthereumConfig covers on-chain access.
type EthereumConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	OracleAddress       string        `mapstructure:"oracle_address"`
	PrivateKey          string        `mapstructure:"private_key"`
	ChainID             int64         `mapstructure:"chain_id"`
	FlagGasLimit        uint64        `mapstructure:"flag_gas_limit"`
	ClearGasLimit       uint64        `mapstructure:"clear_gas_limit"`
	PriceDecimals       int32         `mapstructure:"price_decimals"`
	MaxPriceAge         time.Duration `mapstructure:"max_price_age"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

// LedgerConfig selects where flag/clear actions go.
type LedgerConfig struct {
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	// Retention prunes verdicts older than this age; zero keeps everything.
	Retention       time.Duration `mapstructure:"retention"`
}

// RedisConfig enables the status mirror.
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// APIConfig configures the status HTTP server.
type APIConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Listen       string `mapstructure:"listen"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv exports a .env file if present; existing variables win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitor.assets", []string{"BTC/USD", "ETH/USD", "SOL/USD", "AVAX/USD", "MATIC/USD"})
	v.SetDefault("monitor.threshold", 2.5)
	v.SetDefault("monitor.clear_threshold", 1.5)
	v.SetDefault("monitor.window_capacity", 30)
	v.SetDefault("monitor.min_samples", 10)
	v.SetDefault("monitor.cooldown", "30s")
	v.SetDefault("monitor.poll_interval", "5s")
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.fetch_timeout", "10s")
	v.SetDefault("monitor.ledger_timeout", "90s")
	v.SetDefault("monitor.sink_timeout", "2s")

	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53454e54))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("source.kind", SourceOracle)
	v.SetDefault("source.hermes.base_url", "https://hermes.pyth.network")
	v.SetDefault("source.hermes.rate_limit", 5.0)
	v.SetDefault("source.hermes.timeout", "5s")
	v.SetDefault("source.hermes.max_retry", "3s")
	v.SetDefault("source.hermes.user_agent", "sentinel/1.0")

	v.SetDefault("ethereum.flag_gas_limit", 200000)
	v.SetDefault("ethereum.clear_gas_limit", 100000)
	v.SetDefault("ethereum.price_decimals", 8)
	v.SetDefault("ethereum.max_price_age", "0s")
	v.SetDefault("ethereum.receipt_poll_interval", "2s")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("ledger.mode", LedgerEthereum)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.retention", "0s")

	v.SetDefault("redis.key_prefix", "sentinel")
	v.SetDefault("redis.history_limit", 50)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":5000")
	v.SetDefault("api.history_limit", 50)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. It is the
// only place a fatal error can originate before the engine starts.
func (c *Config) Validate() error {
	m := c.Monitor
	if len(m.Assets) == 0 {
		return fmt.Errorf("monitor.assets must not be empty")
	}
	seen := make(map[string]struct{}, len(m.Assets))
	for _, a := range m.Assets {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("monitor.assets contains an empty entry")
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("monitor.assets contains duplicate %q", a)
		}
		seen[a] = struct{}{}
	}
	if m.Threshold <= 0 {
		return fmt.Errorf("monitor.threshold must be greater than zero")
	}
	if m.ClearThreshold <= 0 || m.ClearThreshold >= m.Threshold {
		return fmt.Errorf("monitor.clear_threshold must be in (0, threshold)")
	}
	if m.MinSamples < 2 {
		return fmt.Errorf("monitor.min_samples must be at least 2")
	}
	if m.WindowCapacity < m.MinSamples {
		return fmt.Errorf("monitor.window_capacity must be >= monitor.min_samples")
	}
	if m.Cooldown <= 0 {
		return fmt.Errorf("monitor.cooldown must be greater than zero")
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be greater than zero")
	}
	if m.Workers < 1 {
		return fmt.Errorf("monitor.workers must be at least 1")
	}
	if m.FetchTimeout <= 0 || m.LedgerTimeout <= 0 || m.SinkTimeout <= 0 {
		return fmt.Errorf("monitor timeouts must be greater than zero")
	}

	switch c.Source.Kind {
	case SourceOracle:
		if c.Ethereum.RPCURL == "" || c.Ethereum.OracleAddress == "" {
			return fmt.Errorf("source.kind=oracle requires ethereum.rpc_url and ethereum.oracle_address")
		}
	case SourceHermes:
		feeds := c.Source.Hermes.FeedMap()
		for _, a := range m.Assets {
			if feeds[a] == "" {
				return fmt.Errorf("source.hermes.feeds has no feed for %s", a)
			}
		}
	case SourceStatic:
	default:
		return fmt.Errorf("source.kind must be one of oracle, hermes, static; got %q", c.Source.Kind)
	}

	switch c.Ledger.Mode {
	case LedgerEthereum:
		if c.Ethereum.RPCURL == "" || c.Ethereum.OracleAddress == "" || c.Ethereum.PrivateKey == "" {
			return fmt.Errorf("ledger.mode=ethereum requires ethereum.rpc_url, ethereum.oracle_address and ethereum.private_key")
		}
	case LedgerDryRun:
	default:
		return fmt.Errorf("ledger.mode must be ethereum or dry-run; got %q", c.Ledger.Mode)
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
