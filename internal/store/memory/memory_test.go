package memory

import (
	"context"
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

func TestPositionStore_SaveReplacesSet(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()

	loaded, err := s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	first := map[string]paper.Position{
		"BTCUSDT": paper.NewPosition("BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(100), t0),
		"ETHUSDT": paper.NewPosition("ETHUSDT", decimal.NewFromInt(10), decimal.NewFromInt(10), decimal.NewFromInt(100), t0),
	}
	require.NoError(t, s.SaveOpenPositions(ctx, first))
	require.NoError(t, s.SaveOpenPositions(ctx, map[string]paper.Position{"ETHUSDT": first["ETHUSDT"]}))

	loaded, err = s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Contains(t, loaded, "ETHUSDT")
	assert.Equal(t, 2, s.Saves())

	err = s.SaveOpenPositions(ctx, map[string]paper.Position{"XRPUSDT": first["BTCUSDT"]})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestPositionStore_AppendCompletedTrade(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	trade := paper.CompletedTrade{Symbol: "BTCUSDT", EntryTime: t0, ExitTime: t0.Add(time.Hour), Reason: signal.TakeProfit}

	require.NoError(t, s.AppendCompletedTrade(ctx, trade))
	assert.ErrorIs(t, s.AppendCompletedTrade(ctx, trade), store.ErrDuplicateKey)
	assert.ErrorIs(t, s.AppendCompletedTrade(ctx, paper.CompletedTrade{Symbol: "BTCUSDT"}), store.ErrInvalidInput)

	reclosed := trade
	reclosed.ExitTime = t0.Add(2 * time.Hour)
	assert.ErrorIs(t, s.AppendCompletedTrade(ctx, reclosed), store.ErrDuplicateKey, "a position closes once")

	earlier := trade
	earlier.Symbol = "ETHUSDT"
	earlier.ExitTime = t0.Add(time.Minute)
	require.NoError(t, s.AppendCompletedTrade(ctx, earlier))

	trades, err := s.ListCompletedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "ETHUSDT", trades[0].Symbol)
}

func TestBarStore_InsertAndRange(t *testing.T) {
	ctx := context.Background()
	s := NewBarStore()
	bars := make([]signal.Bar, 5)
	for i := range bars {
		bars[i] = signal.Bar{OpenTime: t0.Add(time.Duration(i) * time.Hour), Close: decimal.NewFromInt(int64(i))}
	}
	require.NoError(t, s.InsertBars(ctx, "BTCUSDT", "1h", bars[2:]))
	require.NoError(t, s.InsertBars(ctx, "BTCUSDT", "1h", bars))

	got, err := s.GetBars(ctx, "BTCUSDT", "1h", t0.Add(time.Hour), t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].OpenTime.Equal(t0.Add(time.Hour)))
	assert.True(t, got[2].OpenTime.Equal(t0.Add(3*time.Hour)))

	empty, err := s.GetBars(ctx, "BTCUSDT", "30m", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.ErrorIs(t, s.InsertBars(ctx, "", "1h", bars), store.ErrInvalidInput)
}
