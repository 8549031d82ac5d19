package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/indicator"
	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
)

// EntryRule is a named predicate over the two most recent snapshots of a flat symbol.
type EntryRule struct {
	Name  string
	Match func(cur, prev indicator.Snapshot, th Thresholds) bool
}

// ExitRule closes an open position when Match holds.
type ExitRule struct {
	Reason signal.ExitReason
	Match  func(pos paper.Position, price decimal.Decimal, cur indicator.Snapshot, th Thresholds) bool
}

var one = decimal.NewFromInt(1)

// DefaultExitRules are checked in order; the first match closes the position.
func DefaultExitRules() []ExitRule {
	return []ExitRule{
		{Reason: signal.StopLoss, Match: stopLossHit},
		{Reason: signal.TakeProfit, Match: takeProfitHit},
		{Reason: signal.TrailingStop, Match: trailingStopHit},
		{Reason: signal.Overbought, Match: rsiOverbought},
	}
}

// DefaultEntryRules are checked in order; the first match yields the candidate.
// In this order rsi_oversold never fires: sma_trend already matched any bar it would.
func DefaultEntryRules() []EntryRule {
	return []EntryRule{
		{Name: "sma_trend", Match: smaTrend},
		{Name: "rsi_oversold", Match: rsiOversold},
		{Name: "macd_cross", Match: macdCross},
	}
}

func stopLossHit(pos paper.Position, price decimal.Decimal, _ indicator.Snapshot, th Thresholds) bool {
	return price.LessThanOrEqual(pos.EntryPrice.Mul(one.Sub(th.StopLoss)))
}

func takeProfitHit(pos paper.Position, price decimal.Decimal, _ indicator.Snapshot, th Thresholds) bool {
	return price.GreaterThanOrEqual(pos.EntryPrice.Mul(one.Add(th.TakeProfit)))
}

func trailingStopHit(pos paper.Position, price decimal.Decimal, _ indicator.Snapshot, th Thresholds) bool {
	return price.LessThanOrEqual(pos.CurrentHigh.Mul(one.Sub(th.TrailingStop)))
}

func rsiOverbought(_ paper.Position, _ decimal.Decimal, cur indicator.Snapshot, th Thresholds) bool {
	return cur.RSI >= th.RSIOverbought
}

func smaTrend(cur, _ indicator.Snapshot, th Thresholds) bool {
	return cur.FastMA > cur.SlowMA && cur.RSI <= th.RSIOverbought
}

func rsiOversold(cur, _ indicator.Snapshot, th Thresholds) bool {
	return cur.RSI <= th.RSIOversold && cur.FastMA > cur.SlowMA
}

func macdCross(cur, prev indicator.Snapshot, th Thresholds) bool {
	return cur.MACD > cur.MACDSignal && prev.MACD <= prev.MACDSignal && cur.RSI <= th.RSIOverbought
}

// Score ranks an entry: lower RSI is more attractive.
func Score(rsi float64) float64 {
	return 100 - rsi
}
