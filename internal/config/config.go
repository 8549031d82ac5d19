// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the binaries look for configuration when no flag is given.
const DefaultPath = "internal/config/config.yaml"

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Exchange describes the spot venue connectivity and the market data the engine pulls.
type Exchange struct {
	Provider       string    `yaml:"provider"`
	BaseURL        string    `yaml:"base_url"`
	StreamURL      string    `yaml:"stream_url"`
	Testnet        bool      `yaml:"testnet"`
	APIKey         string    `yaml:"api_key"`
	APISecret      string    `yaml:"api_secret"`
	Symbols        []string  `yaml:"symbols"`
	QuoteAsset     string    `yaml:"quote_asset"`
	Interval       string    `yaml:"interval"`
	KlineLimit     int       `yaml:"kline_limit"`
	TimeoutMs      int       `yaml:"timeout_ms"`
	MaxRetries     int       `yaml:"max_retries"`
	RequestsPerSec float64   `yaml:"requests_per_sec"`
	Discovery      Discovery `yaml:"discovery"`
}

// Discovery configures automatic symbol discovery.
type Discovery struct {
	Enabled         bool     `yaml:"enabled"`
	Mode            string   `yaml:"mode"`
	MinQuoteVolume  float64  `yaml:"min_quote_volume"`
	MaxPairs        int      `yaml:"max_pairs"`
	RefreshInterval int      `yaml:"refresh_interval_ms"`
	Exclude         []string `yaml:"exclude"`
}

// Strategy holds indicator periods and entry/exit thresholds. Stop, target and trail are fractions.
type Strategy struct {
	FastPeriod    int     `yaml:"fast_period"`
	SlowPeriod    int     `yaml:"slow_period"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	StopLoss      float64 `yaml:"stop_loss"`
	TakeProfit    float64 `yaml:"take_profit"`
	TrailingStop  float64 `yaml:"trailing_stop"`
}

// Risk encodes guard-rails for how much capital each cycle may commit.
type Risk struct {
	MaxPositions   int     `yaml:"max_positions"`
	TradeAmount    float64 `yaml:"trade_amount"`
	MinTradeAmount float64 `yaml:"min_trade_amount"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	BalanceSource string  `yaml:"balance_source"`
	StartingCash  float64 `yaml:"starting_cash"`
	PositionsPath string  `yaml:"positions_path"`
	TradesPath    string  `yaml:"trades_path"`
	FillsPath     string  `yaml:"fills_path"`
}

// Storage selects where open positions and completed trades live.
type Storage struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Cache configures the optional ClickHouse bar cache.
type Cache struct {
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// Engine tunes the polling loop.
type Engine struct {
	CycleDelaySecs int    `yaml:"cycle_delay_secs"`
	Workers        int    `yaml:"workers"`
	LockPath       string `yaml:"lock_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Strategy Strategy `yaml:"strategy"`
	Risk     Risk     `yaml:"risk"`
	Paper    Paper    `yaml:"paper"`
	Storage  Storage  `yaml:"storage"`
	Cache    Cache    `yaml:"cache"`
	Engine   Engine   `yaml:"engine"`
}

// Load reads a YAML file from disk, hydrates a Config struct and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML. Secrets are never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	out := *cfg
	out.Exchange.APIKey = ""
	out.Exchange.APISecret = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadEnv reads .env files (missing files are fine) and applies environment overrides.
func (c *Config) LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}
	c.Exchange.APIKey = getEnv("BINANCE_API_KEY", c.Exchange.APIKey)
	c.Exchange.APISecret = getEnv("BINANCE_API_SECRET", c.Exchange.APISecret)
	c.Exchange.BaseURL = getEnv("BINANCE_BASE_URL", c.Exchange.BaseURL)
	c.Storage.DSN = getEnv("SNIPER_DATABASE_URL", c.Storage.DSN)
	c.Cache.ClickHouseDSN = getEnv("SNIPER_CLICKHOUSE_URL", c.Cache.ClickHouseDSN)
	c.App.LogLevel = getEnv("SNIPER_LOG_LEVEL", c.App.LogLevel)
	return nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Balance sources for available capital.
const (
	BalanceExchange = "exchange"
	BalancePaper    = "paper"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Validate fills defaults for zero values and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.applyDefaults()

	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	s := c.Strategy
	if s.FastPeriod <= 0 || s.SlowPeriod <= 0 || s.RSIPeriod <= 0 {
		bad("indicator periods must be positive")
	}
	if s.FastPeriod >= s.SlowPeriod {
		bad("fast_period (%d) must be below slow_period (%d)", s.FastPeriod, s.SlowPeriod)
	}
	for name, v := range map[string]float64{"stop_loss": s.StopLoss, "take_profit": s.TakeProfit, "trailing_stop": s.TrailingStop} {
		if v <= 0 || v >= 1 {
			bad("%s must be a fraction in (0,1), got %g", name, v)
		}
	}
	if s.RSIOversold < 0 || s.RSIOverbought > 100 || s.RSIOversold >= s.RSIOverbought {
		bad("rsi thresholds must satisfy 0 <= oversold < overbought <= 100")
	}

	r := c.Risk
	if r.TradeAmount <= 0 {
		bad("trade_amount must be positive")
	}
	if r.MinTradeAmount < 0 || r.MinTradeAmount > r.TradeAmount {
		bad("min_trade_amount must be within [0, trade_amount]")
	}

	switch c.Paper.BalanceSource {
	case BalanceExchange, BalancePaper:
	default:
		bad("unknown paper.balance_source %q", c.Paper.BalanceSource)
	}
	if c.Paper.BalanceSource == BalancePaper && c.Paper.StartingCash <= 0 {
		bad("paper.starting_cash must be positive")
	}

	switch c.Storage.Driver {
	case DriverFile, DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			bad("storage.dsn is required for postgres")
		}
	default:
		bad("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Exchange.Provider {
	case "stub", "binance", "binance_ws":
	default:
		bad("unknown exchange.provider %q", c.Exchange.Provider)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	setString(&c.App.Name, "sniper")
	setString(&c.App.LogLevel, "info")
	setString(&c.App.LogFormat, "json")

	e := &c.Exchange
	setString(&e.Provider, "binance")
	if e.BaseURL == "" {
		e.BaseURL = "https://api.binance.com"
		if e.Testnet {
			e.BaseURL = "https://testnet.binance.vision"
		}
	}
	setString(&e.QuoteAsset, "USDT")
	e.QuoteAsset = strings.ToUpper(e.QuoteAsset)
	setString(&e.Interval, "30m")
	setInt(&e.KlineLimit, 1000)
	setInt(&e.TimeoutMs, 10000)
	setInt(&e.MaxRetries, 3)
	if e.RequestsPerSec <= 0 {
		e.RequestsPerSec = 10
	}
	setString(&e.Discovery.Mode, "volume")
	setInt(&e.Discovery.RefreshInterval, 900000)

	s := &c.Strategy
	setInt(&s.FastPeriod, 5)
	setInt(&s.SlowPeriod, 10)
	setInt(&s.RSIPeriod, 14)
	setFloat(&s.RSIOverbought, 80)
	setFloat(&s.RSIOversold, 40)
	setFloat(&s.StopLoss, 0.05)
	setFloat(&s.TakeProfit, 0.10)
	setFloat(&s.TrailingStop, 0.05)

	setInt(&c.Risk.MaxPositions, 20)
	setFloat(&c.Risk.TradeAmount, 100)
	setFloat(&c.Risk.MinTradeAmount, 10)

	p := &c.Paper
	setString(&p.BalanceSource, BalancePaper)
	setFloat(&p.StartingCash, 1000)
	setString(&p.PositionsPath, "data/open_positions.json")
	setString(&p.TradesPath, "data/trades.jsonl")
	setString(&p.FillsPath, "data/fills.jsonl")

	setString(&c.Storage.Driver, DriverFile)

	setInt(&c.Engine.CycleDelaySecs, 60)
	setInt(&c.Engine.Workers, 8)
	setString(&c.Engine.LockPath, "data/sniper.lock")
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
