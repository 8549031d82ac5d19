// Package app turns a validated config into the components the binaries run.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/config"
	"github.com/Calim38/sniper/internal/engine"
	"github.com/Calim38/sniper/internal/exchange"
	"github.com/Calim38/sniper/internal/execution"
	"github.com/Calim38/sniper/internal/indicator"
	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/risk"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
	"github.com/Calim38/sniper/internal/store/clickhouse"
	"github.com/Calim38/sniper/internal/store/file"
	"github.com/Calim38/sniper/internal/store/memory"
	"github.com/Calim38/sniper/internal/store/postgres"
	"github.com/Calim38/sniper/internal/strategy"
)

// Positions is a position store that can also list the trade history.
type Positions interface {
	store.PositionStore
	store.TradeHistory
}

// NewClient builds the REST client from the exchange section.
func NewClient(cfg config.Exchange, log zerolog.Logger) *exchange.Client {
	opts := []exchange.ClientOption{
		exchange.WithTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond),
		exchange.WithMaxRetries(cfg.MaxRetries),
		exchange.WithRateLimit(cfg.RequestsPerSec, int(cfg.RequestsPerSec)+1),
		exchange.WithLogger(log),
	}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		opts = append(opts, exchange.WithCredentials(cfg.APIKey, cfg.APISecret))
	}
	return exchange.NewClient(cfg.BaseURL, opts...)
}

// OpenPositions opens the configured position store. The returned func releases it.
func OpenPositions(ctx context.Context, cfg config.Config) (Positions, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.NewPositionStore(), func() {}, nil
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewPositionStore(pool), pool.Close, nil
	default:
		st, err := file.New(cfg.Paper.PositionsPath, cfg.Paper.TradesPath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}

// OpenBarCache connects the ClickHouse bar cache when a DSN is configured and returns nil otherwise.
func OpenBarCache(ctx context.Context, cfg config.Cache) (store.BarStore, func(), error) {
	if cfg.ClickHouseDSN == "" {
		return nil, func() {}, nil
	}
	conn, err := clickhouse.NewConn(ctx, cfg.ClickHouseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}
	return clickhouse.NewBarStore(conn), func() { _ = conn.Close() }, nil
}

// NewEvaluator maps the strategy section onto indicator windows and rule thresholds.
func NewEvaluator(cfg config.Strategy, log zerolog.Logger) *strategy.Evaluator {
	return strategy.NewEvaluator(strategy.Config{
		Indicators: indicator.Params{FastPeriod: cfg.FastPeriod, SlowPeriod: cfg.SlowPeriod, RSIPeriod: cfg.RSIPeriod},
		Thresholds: strategy.Thresholds{
			StopLoss:      decimal.NewFromFloat(cfg.StopLoss),
			TakeProfit:    decimal.NewFromFloat(cfg.TakeProfit),
			TrailingStop:  decimal.NewFromFloat(cfg.TrailingStop),
			RSIOverbought: cfg.RSIOverbought,
			RSIOversold:   cfg.RSIOversold,
		},
	}, log)
}

// Limits converts the risk section.
func Limits(cfg config.Risk) risk.Limits {
	return risk.Limits{
		MaxPositions:   cfg.MaxPositions,
		TradeAmount:    decimal.NewFromFloat(cfg.TradeAmount),
		MinTradeAmount: decimal.NewFromFloat(cfg.MinTradeAmount),
	}
}

// Runtime holds everything the paper loop needs.
type Runtime struct {
	Engine    *engine.Engine
	Feed      *exchange.Feed
	Client    *exchange.Client
	Stream    *exchange.Stream
	Discovery *exchange.Discovery
	Account   *paper.Account
	Positions Positions

	log     zerolog.Logger
	closers []func()
}

// Build wires the engine from cfg. Callers must Close the runtime.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{log: log}
	if err := rt.build(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, cfg *config.Config) error {
	log := rt.log
	if cfg.Paper.BalanceSource == config.BalanceExchange && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
		return fmt.Errorf("exchange balance source: %w", exchange.ErrMissingCredentials)
	}

	rt.Client = NewClient(cfg.Exchange, log)

	var history exchange.History
	switch cfg.Exchange.Provider {
	case exchange.ProviderStub:
		history = exchange.NewStub()
	case exchange.ProviderBinanceStream:
		rt.Stream = exchange.NewStream(cfg.Exchange.StreamURL, cfg.Exchange.Interval, rt.Client, log)
		history = rt.Stream
	default:
		history = rt.Client
	}

	feedOpts := []exchange.Option{exchange.WithHistory(history)}
	cache, closeCache, err := OpenBarCache(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("open bar cache: %w", err)
	}
	rt.closers = append(rt.closers, closeCache)
	if cache != nil {
		feedOpts = append(feedOpts, exchange.WithBarCache(cache))
	}
	rt.Feed = exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Symbols, log, feedOpts...)
	if cfg.Exchange.Provider != exchange.ProviderStub {
		rt.Discovery = exchange.NewDiscovery(log, rt.Feed, rt.Client, cfg.Exchange.Symbols, cfg.Exchange.QuoteAsset, cfg.Exchange.Discovery)
	}

	positions, closePositions, err := OpenPositions(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	rt.closers = append(rt.closers, closePositions)
	rt.Positions = positions

	var (
		balance engine.BalanceSource = rt.Client
		cash    engine.CashBook
	)
	if cfg.Paper.BalanceSource == config.BalancePaper {
		rt.Account, err = RestoreAccount(ctx, cfg, positions)
		if err != nil {
			return err
		}
		balance, cash = rt.Account, rt.Account
	}

	recorder, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath)
	if err != nil {
		return fmt.Errorf("open fill log: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = recorder.Close() })

	rt.Engine, err = engine.New(engine.Config{
		Interval:   cfg.Exchange.Interval,
		KlineLimit: cfg.Exchange.KlineLimit,
		QuoteAsset: cfg.Exchange.QuoteAsset,
		Workers:    cfg.Engine.Workers,
		CycleDelay: time.Duration(cfg.Engine.CycleDelaySecs) * time.Second,
		Limits:     Limits(cfg.Risk),
	}, engine.Deps{
		Universe:  rt.Feed,
		History:   rt.Feed,
		Balance:   balance,
		Store:     positions,
		Evaluator: NewEvaluator(cfg.Strategy, log),
		Executor:  execution.NewExecutor(log, recorder),
		Cash:      cash,
	}, log)
	return err
}

// RestoreAccount rebuilds paper cash from the starting bankroll, closed trades and open positions.
func RestoreAccount(ctx context.Context, cfg *config.Config, positions Positions) (*paper.Account, error) {
	account := paper.NewAccount(cfg.Exchange.QuoteAsset, decimal.NewFromFloat(cfg.Paper.StartingCash))
	trades, err := positions.ListCompletedTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trade history: %w", err)
	}
	account.Replay(trades)
	open, err := positions.LoadOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	account.Reserve(open)
	return account, nil
}

// MarkToMarket values open positions at their last close. Symbols whose history
// cannot be fetched are valued at entry.
func MarkToMarket(ctx context.Context, account *paper.Account, open map[string]paper.Position, history exchange.History, interval string) paper.Snapshot {
	marks := make(map[string]decimal.Decimal, len(open))
	for sym := range open {
		bars, err := history.PriceHistory(ctx, sym, interval, 1)
		if err != nil {
			continue
		}
		if last, ok := signal.Last(bars); ok {
			marks[sym] = last.Close
		}
	}
	return account.Snapshot(open, marks)
}

// Start refreshes the symbol universe once and launches the background discovery and stream loops.
func (rt *Runtime) Start(ctx context.Context) {
	if rt.Discovery != nil {
		if _, err := rt.Discovery.Refresh(ctx); err != nil {
			rt.log.Warn().Err(err).Msg("initial symbol discovery failed")
		}
		rt.Discovery.Start(ctx)
	}
	if rt.Stream != nil {
		symbols := rt.Feed.Symbols()
		go func() {
			if err := rt.Stream.Run(ctx, symbols); err != nil && !errors.Is(err, context.Canceled) {
				rt.log.Error().Err(err).Msg("kline stream stopped")
			}
		}()
	}
}

// Close releases stores and files in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
