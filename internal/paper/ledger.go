package paper

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
)

var (
	// ErrPositionExists is returned when opening a symbol that already has an open position.
	ErrPositionExists = errors.New("position already open")
	// ErrNoPosition is returned when closing or updating a symbol without an open position.
	ErrNoPosition = errors.New("no open position")
)

// Ledger owns the open positions. Every mutation marks it dirty so callers only
// persist when something changed.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]Position
	dirty     bool
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{positions: make(map[string]Position, capacity)}
}

// Load replaces the book with positions read from storage and clears the dirty flag.
func (l *Ledger) Load(positions map[string]Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]Position, len(positions))
	for sym, pos := range positions {
		if pos.Symbol == "" {
			pos.Symbol = sym
		}
		if pos.Status == "" {
			pos.Status = StatusOpen
		}
		if pos.CurrentHigh.LessThan(pos.EntryPrice) {
			pos.CurrentHigh = pos.EntryPrice
		}
		l.positions[sym] = pos
	}
	l.dirty = false
}

// Snapshot returns a copy of the open positions.
func (l *Ledger) Snapshot() map[string]Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Position, len(l.positions))
	for sym, pos := range l.positions {
		out[sym] = pos
	}
	return out
}

// Get returns the open position for symbol.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Symbols lists symbols with open positions in ascending order.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len is the number of open positions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Open adds a new position.
func (l *Ledger) Open(pos Position) error {
	if pos.Symbol == "" {
		return errors.New("position symbol required")
	}
	if !pos.Quantity.IsPositive() || !pos.EntryPrice.IsPositive() {
		return fmt.Errorf("open %s: quantity and price must be positive", pos.Symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[pos.Symbol]; ok {
		return fmt.Errorf("open %s: %w", pos.Symbol, ErrPositionExists)
	}
	pos.Status = StatusOpen
	if pos.CurrentHigh.LessThan(pos.EntryPrice) {
		pos.CurrentHigh = pos.EntryPrice
	}
	l.positions[pos.Symbol] = pos
	l.dirty = true
	return nil
}

// Close removes the position and returns the completed trade.
func (l *Ledger) Close(symbol string, price decimal.Decimal, ts time.Time, reason signal.ExitReason) (CompletedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return CompletedTrade{}, fmt.Errorf("close %s: %w", symbol, ErrNoPosition)
	}
	delete(l.positions, symbol)
	l.dirty = true
	return completeTrade(pos, price, ts, reason), nil
}

// RaiseHigh moves CurrentHigh up to high. Lower values are ignored.
func (l *Ledger) RaiseHigh(symbol string, high decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("raise high %s: %w", symbol, ErrNoPosition)
	}
	if pos.ObservePrice(high) {
		l.positions[symbol] = pos
		l.dirty = true
	}
	return nil
}

// Dirty reports whether the book changed since the last Load or MarkClean.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (l *Ledger) MarkClean() {
	l.mu.Lock()
	l.dirty = false
	l.mu.Unlock()
}
