package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/execution"
	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
)

// HistorySource returns the most recent bars for a symbol, oldest first. No data is an
// empty slice, not an error.
type HistorySource interface {
	PriceHistory(ctx context.Context, symbol, interval string, limit int) ([]signal.Bar, error)
}

// BalanceSource reports the free balance of an asset. ok is false when the asset is absent.
type BalanceSource interface {
	Balance(ctx context.Context, asset string) (amount decimal.Decimal, ok bool, err error)
}

// Universe lists the symbols to evaluate each cycle.
type Universe interface {
	Symbols() []string
}

// OrderSubmitter turns ledger changes into (simulated) orders.
type OrderSubmitter interface {
	Submit(order execution.Order) (execution.Fill, error)
}

// CashBook is the paper account settled after each cycle.
type CashBook interface {
	Debit(amount decimal.Decimal) error
	Settle(trade paper.CompletedTrade)
}

// StaticUniverse is a fixed symbol list.
type StaticUniverse []string

// Symbols implements Universe.
func (u StaticUniverse) Symbols() []string { return append([]string(nil), u...) }
