// Package strategy turns indicator snapshots into exit decisions and entry candidates.
package strategy

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/indicator"
	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
)

// Status explains the outcome of an evaluation.
type Status string

const (
	StatusInsufficientData   Status = "insufficient_data"
	StatusIndicatorUndefined Status = "indicator_undefined"
	StatusNoSignal           Status = "no_signal"
	StatusExit               Status = "exit"
	StatusEntry              Status = "entry"
)

// Thresholds are the exit fractions and RSI bands.
type Thresholds struct {
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	TrailingStop  decimal.Decimal
	RSIOverbought float64
	RSIOversold   float64
}

// Config bundles indicator windows and thresholds.
type Config struct {
	Indicators indicator.Params
	Thresholds Thresholds
}

// Result holds at most one of Exit or Candidate.
type Result struct {
	Exit      *signal.Exit
	Candidate *signal.Candidate
	Status    Status
	Snapshot  indicator.Snapshot
}

// Evaluator applies the exit and entry rule lists to one symbol at a time. It keeps no state
// between calls and is safe for concurrent use.
type Evaluator struct {
	cfg        Config
	log        zerolog.Logger
	exitRules  []ExitRule
	entryRules []EntryRule
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithEntryRules replaces the default entry rule list.
func WithEntryRules(rules []EntryRule) Option {
	return func(e *Evaluator) { e.entryRules = rules }
}

// WithExitRules replaces the default exit rule list.
func WithExitRules(rules []ExitRule) Option {
	return func(e *Evaluator) { e.exitRules = rules }
}

// NewEvaluator builds an evaluator with the default rule lists.
func NewEvaluator(cfg Config, log zerolog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		cfg:        cfg,
		log:        log,
		exitRules:  DefaultExitRules(),
		entryRules: DefaultEntryRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinBars is the history length required before rules are evaluated.
func (e *Evaluator) MinBars() int { return e.cfg.Indicators.MinBars() }

// Evaluate decides the fate of symbol at price.
//
// When pos is non-nil its CurrentHigh is raised to price before the exit rules run,
// and the caller keeps that update whether or not an exit fires.
func (e *Evaluator) Evaluate(symbol string, pos *paper.Position, price decimal.Decimal, ts time.Time, bars []signal.Bar) Result {
	need := e.MinBars()
	if len(bars) < need {
		e.log.Debug().Str("sym", symbol).Int("bars", len(bars)).Int("need", need).Msg("insufficient history")
		return Result{Status: StatusInsufficientData}
	}

	snaps := indicator.Compute(bars, e.cfg.Indicators)
	cur := snaps[len(snaps)-1]
	prev := snaps[len(snaps)-2]
	if !cur.Available() {
		e.log.Debug().Str("sym", symbol).Msg("indicators undefined")
		return Result{Status: StatusIndicatorUndefined, Snapshot: cur}
	}
	e.log.Debug().
		Str("sym", symbol).
		Float64("sma_fast", cur.FastMA).
		Float64("sma_slow", cur.SlowMA).
		Float64("rsi", cur.RSI).
		Float64("macd", cur.MACD).
		Float64("macd_signal", cur.MACDSignal).
		Str("px", price.String()).
		Msg("indicators")

	if pos != nil {
		pos.ObservePrice(price)
		for _, rule := range e.exitRules {
			if rule.Match(*pos, price, cur, e.cfg.Thresholds) {
				e.log.Info().Str("sym", symbol).Str("reason", string(rule.Reason)).Str("px", price.String()).Msg("exit signal")
				return Result{
					Exit:     &signal.Exit{Symbol: symbol, Reason: rule.Reason, Price: price, Timestamp: ts},
					Status:   StatusExit,
					Snapshot: cur,
				}
			}
		}
		return Result{Status: StatusNoSignal, Snapshot: cur}
	}

	for _, rule := range e.entryRules {
		if rule.Match(cur, prev, e.cfg.Thresholds) {
			score := Score(cur.RSI)
			e.log.Info().Str("sym", symbol).Str("rule", rule.Name).Float64("rsi", cur.RSI).Float64("score", score).Msg("entry signal")
			return Result{
				Candidate: &signal.Candidate{Symbol: symbol, Price: price, Timestamp: ts, Score: score, Rule: rule.Name},
				Status:    StatusEntry,
				Snapshot:  cur,
			}
		}
	}
	return Result{Status: StatusNoSignal, Snapshot: cur}
}
