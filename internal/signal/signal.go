// Package signal standardizes payloads shared between data ingestion, strategy, and allocation layers.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV interval. Series are ordered ascending by OpenTime with no duplicates.
type Bar struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Candidate is an entry opportunity produced for a flat symbol. It lives for one cycle only.
type Candidate struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
	Score     float64 // 100 - RSI, higher is more attractive
	Rule      string
}

// ExitReason names the rule that closed a position.
type ExitReason string

const (
	StopLoss     ExitReason = "STOP_LOSS"
	TakeProfit   ExitReason = "TAKE_PROFIT"
	TrailingStop ExitReason = "TRAILING_STOP"
	Overbought   ExitReason = "RSI_OVERBOUGHT"
)

// Exit is a decision to close the open position of Symbol at Price.
type Exit struct {
	Symbol    string
	Reason    ExitReason
	Price     decimal.Decimal
	Timestamp time.Time
}

// Last returns the most recent bar of a series and false when the series is empty.
func Last(bars []Bar) (Bar, bool) {
	if len(bars) == 0 {
		return Bar{}, false
	}
	return bars[len(bars)-1], true
}

// Closes extracts closing prices as float64 for indicator math.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}
