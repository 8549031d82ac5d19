package paper

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientCash is returned when a debit exceeds the available balance.
var ErrInsufficientCash = errors.New("insufficient cash")

// Account tracks virtual cash and realized PnL while trading in paper mode.
type Account struct {
	mu           sync.Mutex
	quoteAsset   string
	startingCash decimal.Decimal
	cash         decimal.Decimal
	realizedPnL  decimal.Decimal
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         decimal.Decimal
	EntryPrice  decimal.Decimal
	MarketValue decimal.Decimal
	Unrealized  decimal.Decimal
}

// Snapshot represents the account marked to market using provided prices.
type Snapshot struct {
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
	Equity      decimal.Decimal
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account holding startingCash of quoteAsset.
func NewAccount(quoteAsset string, startingCash decimal.Decimal) *Account {
	return &Account{
		quoteAsset:   strings.ToUpper(quoteAsset),
		startingCash: startingCash,
		cash:         startingCash,
	}
}

// StartingCash returns the initial bankroll.
func (a *Account) StartingCash() decimal.Decimal { return a.startingCash }

// Reserve subtracts the capital committed to positions carried over from a previous run.
func (a *Account) Reserve(positions map[string]Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pos := range positions {
		a.cash = a.cash.Sub(committed(pos))
	}
}

// Replay books the PnL of trades closed in a previous run.
func (a *Account) Replay(trades []CompletedTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range trades {
		a.cash = a.cash.Add(t.ProfitLoss)
		a.realizedPnL = a.realizedPnL.Add(t.ProfitLoss)
	}
}

// Balance returns free cash for the account's quote asset. Other assets are reported absent.
func (a *Account) Balance(_ context.Context, asset string) (decimal.Decimal, bool, error) {
	if !strings.EqualFold(asset, a.quoteAsset) {
		return decimal.Zero, false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash, true, nil
}

// Debit removes amount from cash.
func (a *Account) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("debit amount must not be negative")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount.GreaterThan(a.cash) {
		return ErrInsufficientCash
	}
	a.cash = a.cash.Sub(amount)
	return nil
}

// Settle credits the proceeds of a completed trade and books its PnL.
func (a *Account) Settle(trade CompletedTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cash = a.cash.Add(trade.Proceeds())
	a.realizedPnL = a.realizedPnL.Add(trade.ProfitLoss)
}

// AvailableCash reports free cash that can be deployed into new longs.
func (a *Account) AvailableCash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}

// Snapshot marks positions at the supplied prices. Symbols without a mark are valued at entry.
func (a *Account) Snapshot(positions map[string]Position, marks map[string]decimal.Decimal) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]PositionSnapshot, len(positions))
	equity := a.cash
	for sym, pos := range positions {
		mark, ok := marks[sym]
		if !ok || mark.IsZero() {
			mark = pos.EntryPrice
		}
		value := pos.MarketValue(mark)
		out[sym] = PositionSnapshot{
			Qty:         pos.Quantity,
			EntryPrice:  pos.EntryPrice,
			MarketValue: value,
			Unrealized:  mark.Sub(pos.EntryPrice).Mul(pos.Quantity),
		}
		equity = equity.Add(value)
	}
	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   out,
	}
}

func committed(pos Position) decimal.Decimal {
	if pos.Amount.IsPositive() {
		return pos.Amount
	}
	return pos.EntryPrice.Mul(pos.Quantity)
}
