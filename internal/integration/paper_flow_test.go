package integration

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/engine"
	"github.com/Calim38/sniper/internal/exchange"
	"github.com/Calim38/sniper/internal/execution"
	"github.com/Calim38/sniper/internal/indicator"
	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/risk"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store/file"
	"github.com/Calim38/sniper/internal/strategy"
)

var barStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func bars(closes []float64) []signal.Bar {
	out := make([]signal.Bar, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		out[i] = signal.Bar{OpenTime: barStart.Add(time.Duration(i) * 30 * time.Minute), Open: px, High: px, Low: px, Close: px, Volume: decimal.NewFromInt(1)}
	}
	return out
}

// rally closes at 98 with SMA(5) above SMA(10) and RSI(14) at 45.
func rally() []signal.Bar {
	closes := make([]float64, 30)
	for i := 0; i < 16; i++ {
		closes[i] = 100
	}
	closes[16] = 89
	for i := 17; i <= 25; i++ {
		closes[i] = closes[i-1] + 1
	}
	for i := 26; i < 30; i++ {
		closes[i] = 98
	}
	return bars(closes)
}

func crash() []signal.Bar {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 90
	}
	return bars(closes)
}

type market struct {
	mu   sync.Mutex
	bars []signal.Bar
}

func (m *market) set(b []signal.Bar) {
	m.mu.Lock()
	m.bars = b
	m.mu.Unlock()
}

func (m *market) PriceHistory(context.Context, string, string, int) ([]signal.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]signal.Bar(nil), m.bars...), nil
}

func TestPaperFlowOpensAndClosesPosition(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := t.TempDir()
	positionsPath := filepath.Join(dir, "open_positions.json")
	tradesPath := filepath.Join(dir, "trades.jsonl")
	fillsPath := filepath.Join(dir, "fills.jsonl")

	mkt := &market{}
	mkt.set(rally())
	feed := exchange.NewFeed(exchange.ProviderBinance, []string{"BTCUSDT"}, zerolog.Nop(), exchange.WithHistory(mkt))

	st, err := file.New(positionsPath, tradesPath)
	if err != nil {
		t.Fatalf("file.New returned error: %v", err)
	}
	recorder, err := paper.NewJSONLRecorder(fillsPath)
	if err != nil {
		t.Fatalf("NewJSONLRecorder returned error: %v", err)
	}
	defer recorder.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	account := paper.NewAccount("USDT", decimal.NewFromInt(1000))
	evaluator := strategy.NewEvaluator(strategy.Config{
		Indicators: indicator.Params{FastPeriod: 5, SlowPeriod: 10, RSIPeriod: 14},
		Thresholds: strategy.Thresholds{
			StopLoss:      decimal.RequireFromString("0.05"),
			TakeProfit:    decimal.RequireFromString("0.10"),
			TrailingStop:  decimal.RequireFromString("0.05"),
			RSIOverbought: 80,
			RSIOversold:   40,
		},
	}, logger)

	eng, err := engine.New(engine.Config{
		Interval:   "30m",
		KlineLimit: 100,
		QuoteAsset: "USDT",
		Workers:    2,
		Limits:     risk.Limits{MaxPositions: 5, TradeAmount: decimal.NewFromInt(100), MinTradeAmount: decimal.NewFromInt(10)},
	}, engine.Deps{
		Universe:  feed,
		History:   feed,
		Balance:   account,
		Store:     st,
		Evaluator: evaluator,
		Executor:  execution.NewExecutor(logger, recorder),
		Cash:      account,
	}, logger, engine.WithClock(func() time.Time { return time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC) }))
	if err != nil {
		t.Fatalf("engine.New returned error: %v", err)
	}

	report, err := eng.RunCycle(ctx)
	if err != nil {
		t.Fatalf("first cycle returned error: %v", err)
	}
	if len(report.Entries) != 1 || report.Entries[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected a BTCUSDT entry, got %+v", report.Entries)
	}
	if !account.AvailableCash().Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected 900 cash after entry, got %s", account.AvailableCash())
	}

	mkt.set(crash())
	report, err = eng.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle returned error: %v", err)
	}
	if len(report.Exits) != 1 || report.Exits[0].Reason != signal.StopLoss {
		t.Fatalf("expected a stop-loss exit, got %+v", report.Exits)
	}
	if report.Exits[0].ProfitLoss.Sign() >= 0 {
		t.Fatalf("expected a loss, got %s", report.Exits[0].ProfitLoss)
	}
	if len(report.Entries) != 0 {
		t.Fatalf("no entries expected while crashing, got %d", len(report.Entries))
	}

	cash, _ := account.AvailableCash().Float64()
	if cash < 991 || cash > 992 {
		t.Fatalf("expected about 991.84 cash after stop-loss, got %.4f", cash)
	}

	for _, msg := range []string{"position opened", "simulated fill", "position closed", "cycle complete"} {
		if !strings.Contains(buf.String(), msg) {
			t.Fatalf("expected log output to include %q", msg)
		}
	}

	// a fresh store over the same files sees the persisted state
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	reopened, err := file.New(positionsPath, tradesPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	open, err := reopened.LoadOpenPositions(ctx)
	if err != nil {
		t.Fatalf("LoadOpenPositions returned error: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open positions, got %d", len(open))
	}
	trades, err := reopened.ListCompletedTrades(ctx)
	if err != nil {
		t.Fatalf("ListCompletedTrades returned error: %v", err)
	}
	if len(trades) != 1 || trades[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected one BTCUSDT trade, got %+v", trades)
	}

	if n := countLines(t, fillsPath); n != 2 {
		t.Fatalf("expected buy and sell fills, got %d", n)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}
