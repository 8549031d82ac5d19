// Package engine runs the polling cycle: evaluate every symbol, apply exits, allocate
// capital to the best entry candidates and persist the position book.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Calim38/sniper/internal/execution"
	"github.com/Calim38/sniper/internal/metrics"
	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/risk"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
	"github.com/Calim38/sniper/internal/strategy"
)

// Config tunes one engine.
type Config struct {
	Interval   string
	KlineLimit int
	QuoteAsset string
	Workers    int
	CycleDelay time.Duration
	Limits     risk.Limits
}

// Deps are the collaborators an engine drives. Cash is optional.
type Deps struct {
	Universe  Universe
	History   HistorySource
	Balance   BalanceSource
	Store     store.PositionStore
	Evaluator *strategy.Evaluator
	Executor  OrderSubmitter
	Cash      CashBook
}

// Engine owns the position ledger and runs cycles one at a time.
type Engine struct {
	cfg    Config
	deps   Deps
	ledger *paper.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for entry and exit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New validates deps and returns an engine with an empty ledger.
func New(cfg Config, deps Deps, log zerolog.Logger, opts ...Option) (*Engine, error) {
	switch {
	case deps.Universe == nil:
		return nil, errors.New("engine: universe required")
	case deps.History == nil:
		return nil, errors.New("engine: history source required")
	case deps.Balance == nil:
		return nil, errors.New("engine: balance source required")
	case deps.Store == nil:
		return nil, errors.New("engine: position store required")
	case deps.Evaluator == nil:
		return nil, errors.New("engine: evaluator required")
	case deps.Executor == nil:
		return nil, errors.New("engine: executor required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 1000
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		ledger: paper.NewLedger(cfg.Limits.MaxPositions),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ledger exposes the position book for read-only inspection.
func (e *Engine) Ledger() *paper.Ledger { return e.ledger }

// CycleReport summarizes one cycle.
type CycleReport struct {
	Started    time.Time
	Duration   time.Duration
	Capital    decimal.Decimal
	Remaining  decimal.Decimal
	Evaluated  int
	Skipped    map[string]SkipReason
	Candidates []signal.Candidate
	Exits      []paper.CompletedTrade
	Entries    []paper.Position
	Stop       risk.StopReason
}

type evaluation struct {
	symbol   string
	position *paper.Position
	result   strategy.Result
	skip     SkipReason
	err      error
}

// RunCycle executes one full cycle. Per-symbol problems are reported in CycleReport.Skipped;
// an error means the cycle was skipped or its results could not be persisted.
func (e *Engine) RunCycle(ctx context.Context) (report CycleReport, err error) {
	started := e.now()
	report = CycleReport{Started: started, Skipped: make(map[string]SkipReason)}
	defer func() {
		report.Duration = e.now().Sub(started)
		metrics.CycleDuration.Observe(report.Duration.Seconds())
	}()

	var positions map[string]paper.Position
	positions, err = e.deps.Store.LoadOpenPositions(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("store_error").Inc()
		return report, fmt.Errorf("load open positions: %w", err)
	}
	e.ledger.Load(positions)

	var (
		capital decimal.Decimal
		ok      bool
	)
	capital, ok, err = e.deps.Balance.Balance(ctx, e.cfg.QuoteAsset)
	if err != nil || !ok {
		metrics.CyclesTotal.WithLabelValues("no_balance").Inc()
		if err == nil {
			err = fmt.Errorf("%s not held", e.cfg.QuoteAsset)
		}
		e.log.Warn().Err(err).Str("asset", e.cfg.QuoteAsset).Msg("skipping cycle without balance")
		return report, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}
	report.Capital = capital
	metrics.AvailableCapital.Set(capital.InexactFloat64())

	evals := e.evaluateAll(ctx, started)
	report.Evaluated = len(evals)

	var exits []signal.Exit
	var candidates []signal.Candidate
	for _, ev := range evals {
		if ev.skip != "" {
			report.Skipped[ev.symbol] = ev.skip
			metrics.SymbolsSkippedTotal.WithLabelValues(string(ev.skip)).Inc()
			e.log.Debug().Err(ev.err).Str("sym", ev.symbol).Str("reason", string(ev.skip)).Msg("symbol skipped")
			continue
		}
		switch {
		case ev.result.Exit != nil:
			exits = append(exits, *ev.result.Exit)
		case ev.result.Candidate != nil:
			candidates = append(candidates, *ev.result.Candidate)
		case ev.position != nil:
			if err := e.ledger.RaiseHigh(ev.symbol, ev.position.CurrentHigh); err != nil {
				e.log.Warn().Err(err).Str("sym", ev.symbol).Msg("current high update failed")
			}
		}
	}
	report.Candidates = candidates

	for _, exit := range exits {
		trade, ok := e.applyExit(ctx, exit)
		if ok {
			report.Exits = append(report.Exits, trade)
		}
	}

	alloc := risk.Allocate(candidates, e.ledger.Len(), e.cfg.Limits, capital)
	report.Stop = alloc.Stop
	report.Remaining = alloc.Remaining
	var committed []risk.Entry
	for _, entry := range alloc.Entries {
		if pos, ok := e.applyEntry(entry, started); ok {
			report.Entries = append(report.Entries, pos)
			committed = append(committed, entry)
		}
	}

	if e.ledger.Dirty() {
		if err := e.deps.Store.SaveOpenPositions(ctx, e.ledger.Snapshot()); err != nil {
			metrics.CyclesTotal.WithLabelValues("store_error").Inc()
			return report, fmt.Errorf("save open positions: %w", err)
		}
		e.ledger.MarkClean()
	}

	if e.deps.Cash != nil {
		for _, entry := range committed {
			if err := e.deps.Cash.Debit(entry.Amount); err != nil {
				e.log.Warn().Err(err).Str("sym", entry.Candidate.Symbol).Msg("paper debit failed")
			}
		}
		for _, trade := range report.Exits {
			e.deps.Cash.Settle(trade)
		}
	}

	metrics.OpenPositions.Set(float64(e.ledger.Len()))
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	e.log.Info().
		Int("evaluated", report.Evaluated).
		Int("skipped", len(report.Skipped)).
		Int("candidates", len(candidates)).
		Int("exits", len(report.Exits)).
		Int("entries", len(report.Entries)).
		Int("open", e.ledger.Len()).
		Str("capital", capital.String()).
		Str("remaining", alloc.Remaining.String()).
		Str("stop", string(alloc.Stop)).
		Msg("cycle complete")
	return report, nil
}

// evaluateAll fans out over the universe plus every open symbol. Workers only read
// their own copy of a position; results come back in symbol order.
func (e *Engine) evaluateAll(ctx context.Context, now time.Time) []evaluation {
	book := e.ledger.Snapshot()
	set := make(map[string]struct{}, len(book))
	for sym := range book {
		set[sym] = struct{}{}
	}
	for _, sym := range e.deps.Universe.Symbols() {
		set[sym] = struct{}{}
	}
	symbols := make([]string, 0, len(set))
	for sym := range set {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	evals := make([]evaluation, len(symbols))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, sym := range symbols {
		var pos *paper.Position
		if p, ok := book[sym]; ok {
			pos = &p
		}
		g.Go(func() error {
			evals[i] = e.evaluate(ctx, sym, pos, now)
			return nil
		})
	}
	_ = g.Wait()
	return evals
}

func (e *Engine) evaluate(ctx context.Context, symbol string, pos *paper.Position, now time.Time) evaluation {
	ev := evaluation{symbol: symbol, position: pos}
	bars, err := e.deps.History.PriceHistory(ctx, symbol, e.cfg.Interval, e.cfg.KlineLimit)
	if err != nil {
		ev.skip, ev.err = SkipFetchFailed, err
		return ev
	}
	last, ok := signal.Last(bars)
	if !ok {
		ev.skip, ev.err = SkipNoData, ErrDataUnavailable
		return ev
	}
	if !last.Close.IsPositive() {
		ev.skip, ev.err = SkipInvalidPrice, fmt.Errorf("%w: close %s", ErrDataUnavailable, last.Close)
		return ev
	}

	ev.result = e.deps.Evaluator.Evaluate(symbol, pos, last.Close, now, bars)
	switch ev.result.Status {
	case strategy.StatusInsufficientData:
		ev.skip, ev.err = SkipInsufficientData, SkipInsufficientData.Err()
	case strategy.StatusIndicatorUndefined:
		ev.skip, ev.err = SkipIndicatorUndefined, SkipIndicatorUndefined.Err()
	}
	return ev
}

func (e *Engine) applyExit(ctx context.Context, exit signal.Exit) (paper.CompletedTrade, bool) {
	trade, err := e.ledger.Close(exit.Symbol, exit.Price, exit.Timestamp, exit.Reason)
	if err != nil {
		e.log.Warn().Err(err).Str("sym", exit.Symbol).Msg("exit without position")
		return paper.CompletedTrade{}, false
	}
	metrics.SignalsTotal.WithLabelValues("exit", string(exit.Reason)).Inc()
	switch err := e.deps.Store.AppendCompletedTrade(ctx, trade); {
	case errors.Is(err, store.ErrDuplicateKey):
		// Closed by an earlier cycle whose save failed; the sell already went out.
		e.log.Info().Str("sym", exit.Symbol).Msg("position already closed, settling only")
		return trade, true
	case err != nil:
		e.log.Error().Err(err).Str("sym", exit.Symbol).Msg("record completed trade failed")
	}
	if _, err := e.deps.Executor.Submit(execution.Order{
		Symbol: exit.Symbol,
		Side:   execution.Sell,
		Qty:    trade.Quantity,
		Price:  exit.Price,
		Reason: string(exit.Reason),
		Ts:     exit.Timestamp,
	}); err != nil {
		e.log.Warn().Err(err).Str("sym", exit.Symbol).Msg("simulated sell rejected")
	}
	e.log.Info().
		Str("sym", trade.Symbol).
		Str("reason", string(trade.Reason)).
		Str("entry", trade.EntryPrice.String()).
		Str("exit", trade.ExitPrice.String()).
		Str("pnl", trade.ProfitLoss.StringFixed(2)).
		Str("pnl_pct", trade.ProfitLossPercent.StringFixed(2)).
		Msg("position closed")
	return trade, true
}

func (e *Engine) applyEntry(entry risk.Entry, ts time.Time) (paper.Position, bool) {
	c := entry.Candidate
	pos := paper.NewPosition(c.Symbol, c.Price, entry.Quantity, entry.Amount, ts)
	if err := e.ledger.Open(pos); err != nil {
		e.log.Warn().Err(err).Str("sym", c.Symbol).Msg("open position failed")
		return paper.Position{}, false
	}
	metrics.SignalsTotal.WithLabelValues("entry", c.Rule).Inc()
	if _, err := e.deps.Executor.Submit(execution.Order{
		Symbol: c.Symbol,
		Side:   execution.Buy,
		Qty:    entry.Quantity,
		Price:  c.Price,
		Reason: c.Rule,
		Ts:     ts,
	}); err != nil {
		e.log.Warn().Err(err).Str("sym", c.Symbol).Msg("simulated buy rejected")
	}
	e.log.Info().
		Str("sym", c.Symbol).
		Str("px", c.Price.String()).
		Str("qty", entry.Quantity.String()).
		Str("amount", entry.Amount.String()).
		Float64("score", c.Score).
		Msg("position opened")
	return pos, true
}

// Run executes cycles until ctx is canceled. A cycle in flight when ctx is canceled runs
// to completion; cycle errors are logged and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.RunCycle(context.WithoutCancel(ctx)); err != nil {
			e.log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.CycleDelay):
		}
	}
}
