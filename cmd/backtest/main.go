package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/app"
	"github.com/Calim38/sniper/internal/backtest"
	"github.com/Calim38/sniper/internal/config"
	"github.com/Calim38/sniper/internal/util"
)

const dateLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to replay")
	interval := flag.String("interval", "", "kline interval (defaults to the configured one)")
	from := flag.String("from", time.Now().UTC().AddDate(0, -1, 0).Format(dateLayout), "start date, YYYY-MM-DD")
	to := flag.String("to", time.Now().UTC().Format(dateLayout), "end date, YYYY-MM-DD")
	capital := flag.Float64("capital", 0, "starting capital (defaults to paper.starting_cash)")
	flag.Parse()

	log := util.NewLogger("info", "console")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.LoadEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("load env")
	}
	log = util.NewLogger(cfg.App.LogLevel, "console")

	start, err := time.Parse(dateLayout, *from)
	if err != nil {
		log.Fatal().Err(err).Msg("parse -from")
	}
	end, err := time.Parse(dateLayout, *to)
	if err != nil {
		log.Fatal().Err(err).Msg("parse -to")
	}
	if *interval == "" {
		*interval = cfg.Exchange.Interval
	}
	if *capital <= 0 {
		*capital = cfg.Paper.StartingCash
	}
	sym := strings.ToUpper(*symbol)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cache, closeCache, err := app.OpenBarCache(ctx, cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("bar cache unavailable, fetching from exchange")
		cache, closeCache = nil, func() {}
	}
	defer closeCache()

	client := app.NewClient(cfg.Exchange, log)
	bars, err := backtest.LoadBars(ctx, cache, client, sym, *interval, start, end, log)
	if err != nil {
		log.Fatal().Err(err).Msg("load bars")
	}

	result, err := backtest.Run(ctx, bars, app.NewEvaluator(cfg.Strategy, log), backtest.Config{
		Symbol:          sym,
		QuoteAsset:      cfg.Exchange.QuoteAsset,
		StartingCapital: decimal.NewFromFloat(*capital),
		Limits:          app.Limits(cfg.Risk),
		Window:          cfg.Exchange.KlineLimit,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest")
	}

	fmt.Printf("\n=== %s %s %s..%s ===\n", result.Symbol, *interval, *from, *to)
	for _, t := range result.Trades {
		fmt.Printf("%s  %-13s %s -> %s  pnl %s (%s%%)\n",
			t.ExitTime.Format(time.RFC3339), t.Reason, t.EntryPrice, t.ExitPrice,
			t.ProfitLoss.StringFixed(2), t.ProfitLossPercent.StringFixed(2))
	}
	fmt.Printf("bars %d | trades %d | wins %d | losses %d | win rate %.1f%%\n",
		result.Bars, len(result.Trades), result.Wins, result.Losses, result.WinRate)
	fmt.Printf("pnl %s | capital %s -> %s | equity %s\n",
		result.TotalPnL.StringFixed(2), result.StartingCapital.StringFixed(2),
		result.FinalCapital.StringFixed(2), result.Equity.StringFixed(2))
	if result.Open != nil {
		fmt.Printf("still open: entry %s since %s\n", result.Open.EntryPrice, result.Open.EntryTime.Format(time.RFC3339))
	}
}
