// Package memory provides in-process implementations of the store contracts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
)

// PositionStore is an in-memory implementation of store.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]paper.Position
	trades    []paper.CompletedTrade
	saves     int
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]paper.Position)}
}

var (
	_ store.PositionStore = (*PositionStore)(nil)
	_ store.TradeHistory  = (*PositionStore)(nil)
)

// LoadOpenPositions returns a copy of the stored positions.
func (s *PositionStore) LoadOpenPositions(_ context.Context) (map[string]paper.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]paper.Position, len(s.positions))
	for sym, pos := range s.positions {
		out[sym] = pos
	}
	return out, nil
}

// SaveOpenPositions replaces the stored positions.
func (s *PositionStore) SaveOpenPositions(_ context.Context, positions map[string]paper.Position) error {
	if err := store.ValidatePositions(positions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]paper.Position, len(positions))
	for sym, pos := range positions {
		s.positions[sym] = pos
	}
	s.saves++
	return nil
}

// AppendCompletedTrade records a closed trade. Returns ErrDuplicateKey when the position (symbol, entry time) was already closed.
func (s *PositionStore) AppendCompletedTrade(_ context.Context, trade paper.CompletedTrade) error {
	if err := store.ValidateTrade(trade); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trades {
		if existing.Symbol == trade.Symbol && existing.EntryTime.Equal(trade.EntryTime) {
			return store.ErrDuplicateKey
		}
	}
	s.trades = append(s.trades, trade)
	return nil
}

// ListCompletedTrades returns trades ordered by exit time.
func (s *PositionStore) ListCompletedTrades(_ context.Context) ([]paper.CompletedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]paper.CompletedTrade, len(s.trades))
	copy(out, s.trades)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out, nil
}

// Saves counts successful SaveOpenPositions calls.
func (s *PositionStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

type barKey struct {
	symbol   string
	interval string
}

// BarStore is an in-memory implementation of store.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[barKey]map[int64]signal.Bar
}

// NewBarStore creates an empty bar cache.
func NewBarStore() *BarStore {
	return &BarStore{data: make(map[barKey]map[int64]signal.Bar)}
}

var _ store.BarStore = (*BarStore)(nil)

// InsertBars stores bars, skipping open times already present.
func (s *BarStore) InsertBars(_ context.Context, symbol, interval string, bars []signal.Bar) error {
	if symbol == "" || interval == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := barKey{symbol, interval}
	series := s.data[key]
	if series == nil {
		series = make(map[int64]signal.Bar, len(bars))
		s.data[key] = series
	}
	for _, b := range bars {
		ms := b.OpenTime.UnixMilli()
		if _, ok := series[ms]; ok {
			continue
		}
		series[ms] = b
	}
	return nil
}

// GetBars returns bars with OpenTime in [start, end], ordered ascending.
func (s *BarStore) GetBars(_ context.Context, symbol, interval string, start, end time.Time) ([]signal.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.data[barKey{symbol, interval}]
	out := make([]signal.Bar, 0, len(series))
	for _, b := range series {
		if b.OpenTime.Before(start) || b.OpenTime.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}
