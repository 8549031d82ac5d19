// Package backtest replays historical bars for one symbol through the live evaluator,
// ledger and allocator.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/risk"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
	"github.com/Calim38/sniper/internal/strategy"
)

// ErrNoBars is returned when there is nothing to replay.
var ErrNoBars = errors.New("no bars to replay")

// Config describes one replay.
type Config struct {
	Symbol          string
	QuoteAsset      string
	StartingCapital decimal.Decimal
	Limits          risk.Limits
	// Window caps the history handed to the evaluator at each step, as the live
	// kline limit does. Zero passes the whole prefix.
	Window int
}

// Result summarizes a replay.
type Result struct {
	Symbol          string
	Bars            int
	Trades          []paper.CompletedTrade
	Wins            int
	Losses          int
	WinRate         float64
	TotalPnL        decimal.Decimal
	StartingCapital decimal.Decimal
	FinalCapital    decimal.Decimal
	Equity          decimal.Decimal
	Open            *paper.Position
}

// Run replays bars in order. At bar i the evaluator sees bars up to and including i
// and trades at its close.
func Run(ctx context.Context, bars []signal.Bar, evaluator *strategy.Evaluator, cfg Config, log zerolog.Logger) (Result, error) {
	if cfg.Symbol == "" {
		return Result{}, errors.New("backtest symbol required")
	}
	if len(bars) == 0 {
		return Result{}, ErrNoBars
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Limits.MaxPositions <= 0 {
		cfg.Limits.MaxPositions = 1
	}

	ledger := paper.NewLedger(1)
	account := paper.NewAccount(cfg.QuoteAsset, cfg.StartingCapital)
	res := Result{Symbol: cfg.Symbol, Bars: len(bars), StartingCapital: cfg.StartingCapital}

	for i := range bars {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		lo := 0
		if cfg.Window > 0 && i+1 > cfg.Window {
			lo = i + 1 - cfg.Window
		}
		history := bars[lo : i+1]
		price := bars[i].Close
		ts := bars[i].OpenTime
		if !price.IsPositive() {
			continue
		}

		var pos *paper.Position
		if p, ok := ledger.Get(cfg.Symbol); ok {
			pos = &p
		}
		out := evaluator.Evaluate(cfg.Symbol, pos, price, ts, history)

		switch {
		case out.Exit != nil:
			trade, err := ledger.Close(cfg.Symbol, price, ts, out.Exit.Reason)
			if err != nil {
				return res, err
			}
			account.Settle(trade)
			res.Trades = append(res.Trades, trade)
			log.Debug().Str("sym", cfg.Symbol).Str("reason", string(trade.Reason)).Str("pnl", trade.ProfitLoss.StringFixed(2)).Time("ts", ts).Msg("backtest exit")
		case out.Candidate != nil:
			cash, _, _ := account.Balance(ctx, cfg.QuoteAsset)
			alloc := risk.Allocate([]signal.Candidate{*out.Candidate}, ledger.Len(), cfg.Limits, cash)
			for _, entry := range alloc.Entries {
				if err := ledger.Open(paper.NewPosition(cfg.Symbol, price, entry.Quantity, entry.Amount, ts)); err != nil {
					return res, err
				}
				if err := account.Debit(entry.Amount); err != nil {
					return res, fmt.Errorf("debit entry: %w", err)
				}
				log.Debug().Str("sym", cfg.Symbol).Str("px", price.String()).Str("amount", entry.Amount.String()).Time("ts", ts).Msg("backtest entry")
			}
		case pos != nil:
			if err := ledger.RaiseHigh(cfg.Symbol, pos.CurrentHigh); err != nil {
				return res, err
			}
		}
	}

	res.TotalPnL = decimal.Zero
	for _, t := range res.Trades {
		res.TotalPnL = res.TotalPnL.Add(t.ProfitLoss)
		if t.Won() {
			res.Wins++
		} else {
			res.Losses++
		}
	}
	if n := len(res.Trades); n > 0 {
		res.WinRate = float64(res.Wins) / float64(n) * 100
	}
	res.FinalCapital = account.AvailableCash()
	res.Equity = res.FinalCapital
	if p, ok := ledger.Get(cfg.Symbol); ok {
		res.Open = &p
		res.Equity = res.Equity.Add(p.MarketValue(bars[len(bars)-1].Close))
	}
	return res, nil
}

// Fetcher pages historical bars from the exchange.
type Fetcher interface {
	History(ctx context.Context, symbol, interval string, start, end time.Time) ([]signal.Bar, error)
}

// LoadBars reads [start, end] from cache, falling back to fetch (and filling the cache)
// when the cache holds nothing for the range. cache may be nil.
func LoadBars(ctx context.Context, cache store.BarStore, fetch Fetcher, symbol, interval string, start, end time.Time, log zerolog.Logger) ([]signal.Bar, error) {
	if cache != nil {
		bars, err := cache.GetBars(ctx, symbol, interval, start, end)
		if err != nil {
			log.Warn().Err(err).Str("sym", symbol).Msg("bar cache read failed")
		} else if len(bars) > 0 {
			log.Info().Str("sym", symbol).Int("bars", len(bars)).Msg("bars loaded from cache")
			return bars, nil
		}
	}
	if fetch == nil {
		return nil, ErrNoBars
	}
	bars, err := fetch.History(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if cache != nil && len(bars) > 0 {
		if err := cache.InsertBars(ctx, symbol, interval, bars); err != nil {
			log.Warn().Err(err).Str("sym", symbol).Msg("bar cache write failed")
		}
	}
	log.Info().Str("sym", symbol).Int("bars", len(bars)).Msg("bars fetched from exchange")
	return bars, nil
}
