// Package paper keeps the simulated position book: open positions, completed trades and virtual cash.
package paper

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
)

// Status is the lifecycle state of a Position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position is a simulated holding. There is at most one per symbol.
type Position struct {
	Symbol      string          `json:"symbol"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	EntryTime   time.Time       `json:"entry_time"`
	CurrentHigh decimal.Decimal `json:"current_high"`
	Status      Status          `json:"status"`
}

// NewPosition opens a position with CurrentHigh seeded at the entry price.
func NewPosition(symbol string, price, quantity, amount decimal.Decimal, ts time.Time) Position {
	return Position{
		Symbol:      symbol,
		EntryPrice:  price,
		Quantity:    quantity,
		Amount:      amount,
		EntryTime:   ts,
		CurrentHigh: price,
		Status:      StatusOpen,
	}
}

// ObservePrice raises CurrentHigh when price exceeds it and reports whether it changed.
func (p *Position) ObservePrice(price decimal.Decimal) bool {
	if price.GreaterThan(p.CurrentHigh) {
		p.CurrentHigh = price
		return true
	}
	return false
}

// MarketValue is quantity marked at price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// CompletedTrade is the immutable record of a closed position.
type CompletedTrade struct {
	Symbol            string            `json:"symbol"`
	EntryPrice        decimal.Decimal   `json:"entry_price"`
	ExitPrice         decimal.Decimal   `json:"exit_price"`
	Quantity          decimal.Decimal   `json:"quantity"`
	EntryTime         time.Time         `json:"entry_time"`
	ExitTime          time.Time         `json:"exit_time"`
	ProfitLoss        decimal.Decimal   `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal   `json:"profit_loss_percent"`
	Reason            signal.ExitReason `json:"reason"`
}

// Proceeds is the cash returned by the sale.
func (t CompletedTrade) Proceeds() decimal.Decimal {
	return t.ExitPrice.Mul(t.Quantity)
}

// Won reports whether the trade closed with a strictly positive profit.
func (t CompletedTrade) Won() bool {
	return t.ProfitLoss.IsPositive()
}

var hundred = decimal.NewFromInt(100)

func completeTrade(pos Position, price decimal.Decimal, ts time.Time, reason signal.ExitReason) CompletedTrade {
	pnl := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	pct := decimal.Zero
	if !pos.EntryPrice.IsZero() {
		pct = price.Div(pos.EntryPrice).Sub(decimal.NewFromInt(1)).Mul(hundred)
	}
	return CompletedTrade{
		Symbol:            pos.Symbol,
		EntryPrice:        pos.EntryPrice,
		ExitPrice:         price,
		Quantity:          pos.Quantity,
		EntryTime:         pos.EntryTime,
		ExitTime:          ts,
		ProfitLoss:        pnl,
		ProfitLossPercent: pct,
		Reason:            reason,
	}
}
