// Package file persists open positions as a JSON document and completed trades as JSON lines.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/store"
)

// Store keeps positions in positionsPath and appends trades to tradesPath.
type Store struct {
	mu            sync.Mutex
	positionsPath string
	tradesPath    string
	trades        *paper.JSONLRecorder
	seen          map[string]struct{}
}

var (
	_ store.PositionStore = (*Store)(nil)
	_ store.TradeHistory  = (*Store)(nil)
)

// New opens (or creates) the trade log and indexes the trades already recorded.
func New(positionsPath, tradesPath string) (*Store, error) {
	if positionsPath == "" || tradesPath == "" {
		return nil, store.ErrInvalidInput
	}
	existing, err := readTrades(tradesPath)
	if err != nil {
		return nil, err
	}
	rec, err := paper.NewJSONLRecorder(tradesPath)
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[tradeKey(t)] = struct{}{}
	}
	return &Store{positionsPath: positionsPath, tradesPath: tradesPath, trades: rec, seen: seen}, nil
}

// LoadOpenPositions reads the positions document. A missing or empty file is an empty book.
func (s *Store) LoadOpenPositions(_ context.Context) (map[string]paper.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]paper.Position)
	data, err := os.ReadFile(s.positionsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read positions: %w", err)
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return out, nil
}

// SaveOpenPositions writes the document atomically through a temp file and rename.
func (s *Store) SaveOpenPositions(_ context.Context, positions map[string]paper.Position) error {
	if err := store.ValidatePositions(positions); err != nil {
		return err
	}
	if positions == nil {
		positions = map[string]paper.Position{}
	}
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.positionsPath), 0o755); err != nil {
		return err
	}
	tmp := s.positionsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	if err := os.Rename(tmp, s.positionsPath); err != nil {
		return fmt.Errorf("replace positions: %w", err)
	}
	return nil
}

// AppendCompletedTrade appends one line to the trade log.
func (s *Store) AppendCompletedTrade(_ context.Context, trade paper.CompletedTrade) error {
	if err := store.ValidateTrade(trade); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tradeKey(trade)
	if _, ok := s.seen[key]; ok {
		return store.ErrDuplicateKey
	}
	if err := s.trades.Append(trade); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	s.seen[key] = struct{}{}
	return nil
}

// ListCompletedTrades reads the trade log ordered by exit time.
func (s *Store) ListCompletedTrades(_ context.Context) ([]paper.CompletedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades, err := readTrades(s.tradesPath)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ExitTime.Before(trades[j].ExitTime) })
	return trades, nil
}

// Close releases the trade log handle.
func (s *Store) Close() error {
	return s.trades.Close()
}

func readTrades(path string) ([]paper.CompletedTrade, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()

	var out []paper.CompletedTrade
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t paper.CompletedTrade
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("decode trade log line %d: %w", line, err)
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan trade log: %w", err)
	}
	return out, nil
}

// tradeKey identifies the position a trade closed; a position closes once.
func tradeKey(t paper.CompletedTrade) string {
	return fmt.Sprintf("%s|%d", t.Symbol, t.EntryTime.UnixMilli())
}
