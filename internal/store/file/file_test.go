package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "data", "positions.json"), filepath.Join(dir, "data", "trades.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestStore_MissingFileIsEmptyBook(t *testing.T) {
	s, _ := newStore(t)
	positions, err := s.LoadOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	pos := paper.NewPosition("BTCUSDT", decimal.RequireFromString("64000.12"), decimal.RequireFromString("0.0015625"), decimal.NewFromInt(100), t0)
	pos.CurrentHigh = decimal.RequireFromString("65000")
	require.NoError(t, s.SaveOpenPositions(ctx, map[string]paper.Position{"BTCUSDT": pos}))

	loaded, err := s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded, "BTCUSDT")
	got := loaded["BTCUSDT"]
	assert.True(t, got.EntryPrice.Equal(pos.EntryPrice))
	assert.True(t, got.Quantity.Equal(pos.Quantity))
	assert.True(t, got.CurrentHigh.Equal(pos.CurrentHigh))
	assert.True(t, got.EntryTime.Equal(t0))

	require.NoError(t, s.SaveOpenPositions(ctx, nil))
	loaded, err = s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_CorruptPositions(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, os.WriteFile(s.positionsPath, []byte("{not json"), 0o644))
	_, err := s.LoadOpenPositions(context.Background())
	assert.Error(t, err)
}

func TestStore_TradesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	positions := filepath.Join(dir, "positions.json")
	trades := filepath.Join(dir, "trades.jsonl")

	s, err := New(positions, trades)
	require.NoError(t, err)
	trade := paper.CompletedTrade{
		Symbol:     "ETHUSDT",
		EntryPrice: decimal.NewFromInt(10),
		ExitPrice:  decimal.NewFromInt(11),
		Quantity:   decimal.NewFromInt(10),
		EntryTime:  t0,
		ExitTime:   t0.Add(time.Hour),
		ProfitLoss: decimal.NewFromInt(10),
		Reason:     signal.TakeProfit,
	}
	require.NoError(t, s.AppendCompletedTrade(ctx, trade))
	require.NoError(t, s.Close())

	reopened, err := New(positions, trades)
	require.NoError(t, err)
	defer reopened.Close()

	assert.ErrorIs(t, reopened.AppendCompletedTrade(ctx, trade), store.ErrDuplicateKey)
	reclosed := trade
	reclosed.ExitTime = t0.Add(2 * time.Hour)
	assert.ErrorIs(t, reopened.AppendCompletedTrade(ctx, reclosed), store.ErrDuplicateKey)

	list, err := reopened.ListCompletedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, signal.TakeProfit, list[0].Reason)
	assert.True(t, list[0].ProfitLoss.Equal(decimal.NewFromInt(10)))
}

func TestNew_RequiresPaths(t *testing.T) {
	_, err := New("", "x")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
