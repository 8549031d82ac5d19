package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
)

func TestAccountDebitSettle(t *testing.T) {
	account := NewAccount("usdt", d("1000"))

	if err := account.Debit(d("100")); err != nil {
		t.Fatalf("unexpected debit error: %v", err)
	}
	bal, ok, err := account.Balance(context.Background(), "USDT")
	if err != nil || !ok {
		t.Fatalf("expected USDT balance, got ok=%v err=%v", ok, err)
	}
	if !bal.Equal(d("900")) {
		t.Fatalf("expected 900 after debit, got %s", bal)
	}

	ledger := NewLedger(1)
	if err := ledger.Open(NewPosition("BTCUSDT", d("100"), d("1"), d("100"), t0)); err != nil {
		t.Fatalf("open: %v", err)
	}
	trade, err := ledger.Close("BTCUSDT", d("90"), t0, signal.StopLoss)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	account.Settle(trade)
	if !account.AvailableCash().Equal(d("990")) {
		t.Fatalf("expected 990 after settle, got %s", account.AvailableCash())
	}
	if !account.RealizedPnL().Equal(d("-10")) {
		t.Fatalf("expected realized -10, got %s", account.RealizedPnL())
	}
}

func TestAccountInsufficientCash(t *testing.T) {
	account := NewAccount("USDT", d("10"))
	if err := account.Debit(d("20")); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected cash error, got %v", err)
	}
}

func TestAccountOtherAssetAbsent(t *testing.T) {
	account := NewAccount("USDT", d("10"))
	_, ok, err := account.Balance(context.Background(), "BTC")
	if err != nil || ok {
		t.Fatalf("expected absent balance, got ok=%v err=%v", ok, err)
	}
}

func TestAccountReserveAndSnapshot(t *testing.T) {
	account := NewAccount("USDT", d("1000"))
	positions := map[string]Position{
		"BTCUSDT": NewPosition("BTCUSDT", d("100"), d("1"), d("100"), t0),
		"ETHUSDT": {Symbol: "ETHUSDT", EntryPrice: d("10"), Quantity: d("5")},
	}
	account.Reserve(positions)
	if !account.AvailableCash().Equal(d("850")) {
		t.Fatalf("expected 850 after reserve, got %s", account.AvailableCash())
	}

	snap := account.Snapshot(positions, map[string]decimal.Decimal{"BTCUSDT": d("120")})
	if !snap.Positions["BTCUSDT"].Unrealized.Equal(d("20")) {
		t.Fatalf("expected unrealized 20, got %s", snap.Positions["BTCUSDT"].Unrealized)
	}
	if !snap.Positions["ETHUSDT"].MarketValue.Equal(d("50")) {
		t.Fatalf("unmarked position should be valued at entry, got %s", snap.Positions["ETHUSDT"].MarketValue)
	}
	if !snap.Equity.Equal(d("1020")) {
		t.Fatalf("expected equity 1020, got %s", snap.Equity)
	}
}

func TestAccountReplayRestoresRealizedPnL(t *testing.T) {
	account := NewAccount("USDT", d("1000"))
	account.Replay([]CompletedTrade{
		{Symbol: "BTCUSDT", ProfitLoss: d("25")},
		{Symbol: "ETHUSDT", ProfitLoss: d("-5")},
	})
	if !account.AvailableCash().Equal(d("1020")) {
		t.Fatalf("expected 1020 after replay, got %s", account.AvailableCash())
	}
	if !account.RealizedPnL().Equal(d("20")) {
		t.Fatalf("expected realized 20, got %s", account.RealizedPnL())
	}
}
