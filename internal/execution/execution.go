// Package execution records simulated order fills. No order ever reaches a venue.
package execution

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/metrics"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy opens a long position.
	Buy Side = "BUY"
	// Sell closes a long position.
	Sell Side = "SELL"
)

// Order represents a simulated market order at a known price.
type Order struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Reason string
	Ts     time.Time
}

// Fill is the outcome of a simulated order.
type Fill struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Qty      decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Reason   string          `json:"reason,omitempty"`
	Ts       time.Time       `json:"ts"`
}

// Recorder captures fills for later inspection.
type Recorder interface {
	Record(Fill)
}

// Executor fills orders immediately at the requested price and logs them.
type Executor struct {
	log      zerolog.Logger
	recorder Recorder
}

// NewExecutor wraps a zerolog logger and an optional fill recorder.
func NewExecutor(log zerolog.Logger, recorder Recorder) *Executor {
	return &Executor{log: log, recorder: recorder}
}

// Submit validates the order, records the resulting fill and returns it.
func (executor *Executor) Submit(order Order) (Fill, error) {
	if order.Symbol == "" {
		return Fill{}, errors.New("order symbol required")
	}
	if order.Side != Buy && order.Side != Sell {
		return Fill{}, errors.New("unknown order side")
	}
	if !order.Qty.IsPositive() || !order.Price.IsPositive() {
		return Fill{}, errors.New("order quantity and price must be positive")
	}
	ts := order.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	fill := Fill{
		Symbol:   order.Symbol,
		Side:     order.Side,
		Qty:      order.Qty,
		Price:    order.Price,
		Notional: order.Qty.Mul(order.Price),
		Reason:   order.Reason,
		Ts:       ts,
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	executor.log.Info().
		Str("sym", order.Symbol).
		Str("side", string(order.Side)).
		Str("qty", order.Qty.String()).
		Str("px", order.Price.String()).
		Str("reason", order.Reason).
		Msg("simulated fill")
	if executor.recorder != nil {
		executor.recorder.Record(fill)
	}
	return fill, nil
}
