package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store/memory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 17, 0, 0, time.UTC)

func TestStubIsDeterministic(t *testing.T) {
	stub := NewStub(WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	a, err := stub.PriceHistory(ctx, "BTCUSDT", "30m", 50)
	if err != nil {
		t.Fatalf("PriceHistory returned error: %v", err)
	}
	b, _ := stub.PriceHistory(ctx, "BTCUSDT", "30m", 50)
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("expected 50 bars, got %d/%d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Close.Equal(b[i].Close) || !a[i].OpenTime.Equal(b[i].OpenTime) {
			t.Fatalf("bar %d differs between calls", i)
		}
		if i > 0 && !a[i].OpenTime.After(a[i-1].OpenTime) {
			t.Fatalf("bars not ascending at %d", i)
		}
		if a[i].Close.Sign() <= 0 {
			t.Fatalf("non-positive close at %d", i)
		}
	}
	if want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC); !a[49].OpenTime.Equal(want) {
		t.Fatalf("expected last bar at %v, got %v", want, a[49].OpenTime)
	}

	other, _ := stub.PriceHistory(ctx, "ETHUSDT", "30m", 50)
	if other[49].Close.Equal(a[49].Close) {
		t.Fatalf("expected symbols to produce different series")
	}

	if _, err := stub.PriceHistory(ctx, "BTCUSDT", "7m", 10); err == nil {
		t.Fatalf("expected error for unsupported interval")
	}
}

func TestFeedSetSymbolsNormalizes(t *testing.T) {
	feed := NewFeed("", []string{"ethusdt", " BTCUSDT ", "", "ETHUSDT"}, zerolog.Nop())
	if feed.Provider() != ProviderStub {
		t.Fatalf("expected stub provider, got %s", feed.Provider())
	}
	got := feed.Symbols()
	if !slicesEqual(got, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("unexpected symbols %v", got)
	}
	got[0] = "MUTATED"
	if feed.Symbols()[0] != "BTCUSDT" {
		t.Fatalf("Symbols must return a copy")
	}
}

type scriptedHistory struct {
	bars []signal.Bar
	err  error
}

func (s scriptedHistory) PriceHistory(context.Context, string, string, int) ([]signal.Bar, error) {
	return append([]signal.Bar(nil), s.bars...), s.err
}

func TestFeedPriceHistoryNormalizesAndCaches(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(min int, px int64) signal.Bar {
		p := decimal.NewFromInt(px)
		return signal.Bar{OpenTime: t0.Add(time.Duration(min) * time.Minute), Open: p, High: p, Low: p, Close: p}
	}
	cache := memory.NewBarStore()
	feed := NewFeed(ProviderBinance, []string{"BTCUSDT"}, zerolog.Nop(),
		WithHistory(scriptedHistory{bars: []signal.Bar{bar(2, 3), bar(0, 1), bar(1, 2), bar(2, 4)}}),
		WithBarCache(cache),
	)

	bars, err := feed.PriceHistory(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("PriceHistory returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[0].Close.Equal(decimal.NewFromInt(2)) || !bars[1].Close.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("unexpected closes %s %s", bars[0].Close, bars[1].Close)
	}

	cached, err := cache.GetBars(context.Background(), "BTCUSDT", "1m", t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetBars returned error: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("expected 2 cached bars, got %d", len(cached))
	}
}

func TestFeedPriceHistoryPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop(), WithHistory(scriptedHistory{err: boom}))
	if _, err := feed.PriceHistory(context.Background(), "BTCUSDT", "1m", 2); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
