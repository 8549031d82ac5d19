package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "sniper-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.App.LogFormat != "console" {
		t.Fatalf("unexpected App.LogFormat: %s", cfg.App.LogFormat)
	}
	if len(cfg.Exchange.Symbols) != 2 || cfg.Exchange.Symbols[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT first, got %+v", cfg.Exchange.Symbols)
	}
	if cfg.Exchange.BaseURL != "https://testnet.binance.vision" {
		t.Fatalf("expected testnet base url, got %s", cfg.Exchange.BaseURL)
	}
	if cfg.Exchange.QuoteAsset != "USDT" {
		t.Fatalf("expected upper-cased quote asset, got %s", cfg.Exchange.QuoteAsset)
	}
	if cfg.Exchange.Interval != "1h" || cfg.Exchange.KlineLimit != 500 {
		t.Fatalf("unexpected interval/limit: %s/%d", cfg.Exchange.Interval, cfg.Exchange.KlineLimit)
	}
	if cfg.Exchange.TimeoutMs != 10000 || cfg.Exchange.MaxRetries != 3 {
		t.Fatalf("expected client defaults, got %d/%d", cfg.Exchange.TimeoutMs, cfg.Exchange.MaxRetries)
	}
	d := cfg.Exchange.Discovery
	if !d.Enabled || d.Mode != "listing" || d.MaxPairs != 5 || d.RefreshInterval != 20000 {
		t.Fatalf("unexpected discovery: %+v", d)
	}
	if d.MinQuoteVolume != 250000 || len(d.Exclude) != 1 {
		t.Fatalf("unexpected discovery filters: %+v", d)
	}
	s := cfg.Strategy
	if s.FastPeriod != 7 || s.SlowPeriod != 21 || s.RSIPeriod != 14 {
		t.Fatalf("unexpected periods: %+v", s)
	}
	if s.RSIOverbought != 75 || s.RSIOversold != 35 {
		t.Fatalf("unexpected rsi thresholds: %+v", s)
	}
	if s.StopLoss != 0.03 || s.TakeProfit != 0.08 || s.TrailingStop != 0.04 {
		t.Fatalf("unexpected exit fractions: %+v", s)
	}
	if cfg.Risk.MaxPositions != 4 || cfg.Risk.TradeAmount != 250 || cfg.Risk.MinTradeAmount != 25 {
		t.Fatalf("unexpected risk: %+v", cfg.Risk)
	}
	if cfg.Paper.StartingCash != 5000 || cfg.Paper.BalanceSource != BalancePaper {
		t.Fatalf("unexpected paper: %+v", cfg.Paper)
	}
	if cfg.Paper.TradesPath != "data/trades.jsonl" {
		t.Fatalf("expected default trades path, got %s", cfg.Paper.TradesPath)
	}
	if cfg.Storage.Driver != DriverPostgres || !strings.HasPrefix(cfg.Storage.DSN, "postgres://") {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Engine.CycleDelaySecs != 30 || cfg.Engine.Workers != 4 || cfg.Engine.LockPath != "data/sniper.lock" {
		t.Fatalf("unexpected engine: %+v", cfg.Engine)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero config should validate with defaults: %v", err)
	}
	if cfg.Exchange.Interval != "30m" || cfg.Exchange.KlineLimit != 1000 {
		t.Fatalf("unexpected exchange defaults: %+v", cfg.Exchange)
	}
	if cfg.Strategy.FastPeriod != 5 || cfg.Strategy.SlowPeriod != 10 || cfg.Strategy.RSIPeriod != 14 {
		t.Fatalf("unexpected strategy defaults: %+v", cfg.Strategy)
	}
	if cfg.Strategy.RSIOverbought != 80 || cfg.Strategy.RSIOversold != 40 {
		t.Fatalf("unexpected rsi defaults: %+v", cfg.Strategy)
	}
	if cfg.Risk.MaxPositions != 20 || cfg.Risk.TradeAmount != 100 || cfg.Risk.MinTradeAmount != 10 {
		t.Fatalf("unexpected risk defaults: %+v", cfg.Risk)
	}
	if cfg.Engine.CycleDelaySecs != 60 {
		t.Fatalf("unexpected cycle delay default: %d", cfg.Engine.CycleDelaySecs)
	}
}

func TestValidateRejectsNonsense(t *testing.T) {
	cases := map[string]func(*Config){
		"fast above slow":  func(c *Config) { c.Strategy.FastPeriod, c.Strategy.SlowPeriod = 20, 10 },
		"stop loss >= 1":   func(c *Config) { c.Strategy.StopLoss = 1.5 },
		"negative trail":   func(c *Config) { c.Strategy.TrailingStop = -0.1 },
		"rsi inverted":     func(c *Config) { c.Strategy.RSIOversold, c.Strategy.RSIOverbought = 70, 30 },
		"min above trade":  func(c *Config) { c.Risk.TradeAmount, c.Risk.MinTradeAmount = 10, 50 },
		"balance source":   func(c *Config) { c.Paper.BalanceSource = "wallet" },
		"postgres no dsn":  func(c *Config) { c.Storage.Driver = DriverPostgres },
		"unknown driver":   func(c *Config) { c.Storage.Driver = "sqlite" },
		"unknown provider": func(c *Config) { c.Exchange.Provider = "kraken" },
		"negative trade":   func(c *Config) { c.Risk.TradeAmount = -1 },
		"negative cash":    func(c *Config) { c.Paper.StartingCash = -5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var cfg Config
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSaveOmitsSecretsAndRoundTrips(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "s3cr3t-value"
	cfg.Risk.TradeAmount = 300

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	if strings.Contains(string(raw), "s3cr3t-value") {
		t.Fatalf("saved config leaked the api secret")
	}
	if cfg.Exchange.APISecret != "s3cr3t-value" {
		t.Fatalf("Save must not mutate the caller's config")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if reloaded.Risk.TradeAmount != 300 {
		t.Fatalf("expected trade amount 300, got %.2f", reloaded.Risk.TradeAmount)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("BINANCE_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BINANCE_API_SECRET", "from-env")
	t.Setenv("BINANCE_API_KEY", "")
	os.Unsetenv("BINANCE_API_KEY")

	var cfg Config
	if err := cfg.LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv returned error: %v", err)
	}
	if cfg.Exchange.APIKey != "from-dotenv" {
		t.Fatalf("expected key from .env, got %q", cfg.Exchange.APIKey)
	}
	if cfg.Exchange.APISecret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.Exchange.APISecret)
	}
}
