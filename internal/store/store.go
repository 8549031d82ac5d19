// Package store defines persistence contracts for the position book and the bar cache.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an append-only record already exists.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// PositionStore persists open positions and the completed trade history.
type PositionStore interface {
	// LoadOpenPositions returns every open position keyed by symbol. An empty store yields an empty map.
	LoadOpenPositions(ctx context.Context) (map[string]paper.Position, error)

	// SaveOpenPositions replaces the stored set of open positions with positions.
	SaveOpenPositions(ctx context.Context, positions map[string]paper.Position) error

	// AppendCompletedTrade adds a closed trade. Returns ErrDuplicateKey if it was already recorded.
	AppendCompletedTrade(ctx context.Context, trade paper.CompletedTrade) error
}

// TradeHistory reads back completed trades, oldest exit first.
type TradeHistory interface {
	ListCompletedTrades(ctx context.Context) ([]paper.CompletedTrade, error)
}

// BarStore caches historical bars for offline backtests.
type BarStore interface {
	// InsertBars stores bars for symbol and interval. Bars already present are skipped.
	InsertBars(ctx context.Context, symbol, interval string, bars []signal.Bar) error

	// GetBars returns bars with OpenTime in [start, end], ordered ascending.
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]signal.Bar, error)
}

// ValidateTrade rejects trades missing the fields that identify them.
func ValidateTrade(trade paper.CompletedTrade) error {
	if trade.Symbol == "" || trade.ExitTime.IsZero() || trade.Reason == "" {
		return ErrInvalidInput
	}
	return nil
}

// ValidatePositions rejects positions whose key and symbol disagree.
func ValidatePositions(positions map[string]paper.Position) error {
	for sym, pos := range positions {
		if sym == "" || (pos.Symbol != "" && pos.Symbol != sym) {
			return ErrInvalidInput
		}
	}
	return nil
}
