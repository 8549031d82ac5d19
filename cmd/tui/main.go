package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/app"
	"github.com/Calim38/sniper/internal/config"
	"github.com/Calim38/sniper/internal/exchange"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	flag.Parse()
	path := filepath.Clean(*configPath)

	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Sniper Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit strategy thresholds")
		fmt.Println("3) Edit bankroll and risk knobs")
		fmt.Println("4) Edit discovery settings")
		fmt.Println("5) Show positions and trade history")
		fmt.Println("6) Save config")
		fmt.Println("7) Launch paper bot")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editStrategy(reader, cfg)
		case "3":
			editRisk(reader, cfg)
		case "4":
			editDiscovery(reader, cfg)
		case "5":
			if err := printHistory(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "history failed: %v\n", err)
			}
		case "6":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := config.Save(path, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "7":
			launchPaper(reader, path)
		case "8":
			reloaded, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	s, r := cfg.Strategy, cfg.Risk
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s | interval %s | quote %s\n", cfg.Exchange.Provider, cfg.Exchange.Interval, cfg.Exchange.QuoteAsset)
	fmt.Println("Symbols:", strings.Join(cfg.Exchange.Symbols, ", "))
	fmt.Printf("SMA fast/slow: %d/%d | RSI period %d\n", s.FastPeriod, s.SlowPeriod, s.RSIPeriod)
	fmt.Printf("RSI oversold/overbought: %.1f/%.1f\n", s.RSIOversold, s.RSIOverbought)
	fmt.Printf("Stop loss: %.2f%% | take profit: %.2f%% | trailing stop: %.2f%%\n", s.StopLoss*100, s.TakeProfit*100, s.TrailingStop*100)
	fmt.Printf("Max positions: %d | trade amount: $%.2f | min trade: $%.2f\n", r.MaxPositions, r.TradeAmount, r.MinTradeAmount)
	fmt.Printf("Balance source: %s | starting cash: $%.2f\n", cfg.Paper.BalanceSource, cfg.Paper.StartingCash)
	d := cfg.Exchange.Discovery
	fmt.Printf("Discovery: enabled=%t mode=%s max pairs=%d min quote volume=$%.0f\n", d.Enabled, d.Mode, d.MaxPairs, d.MinQuoteVolume)
	fmt.Printf("Cycle delay: %ds | workers: %d | storage: %s\n", cfg.Engine.CycleDelaySecs, cfg.Engine.Workers, cfg.Storage.Driver)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	s := &cfg.Strategy
	s.FastPeriod = promptInt(reader, "Fast SMA period", s.FastPeriod)
	s.SlowPeriod = promptInt(reader, "Slow SMA period", s.SlowPeriod)
	s.RSIPeriod = promptInt(reader, "RSI period", s.RSIPeriod)
	s.RSIOversold = promptFloat(reader, "RSI oversold", s.RSIOversold)
	s.RSIOverbought = promptFloat(reader, "RSI overbought", s.RSIOverbought)
	s.StopLoss = promptPercent(reader, "Stop loss (%)", s.StopLoss)
	s.TakeProfit = promptPercent(reader, "Take profit (%)", s.TakeProfit)
	s.TrailingStop = promptPercent(reader, "Trailing stop (%)", s.TrailingStop)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Bankroll ---")
	cfg.Paper.StartingCash = promptFloat(reader, "Starting cash", cfg.Paper.StartingCash)
	cfg.Risk.MaxPositions = promptInt(reader, "Max open positions", cfg.Risk.MaxPositions)
	cfg.Risk.TradeAmount = promptFloat(reader, "Trade amount (quote)", cfg.Risk.TradeAmount)
	cfg.Risk.MinTradeAmount = promptFloat(reader, "Min trade amount (quote)", cfg.Risk.MinTradeAmount)
}

func editDiscovery(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Discovery ---")
	d := &cfg.Exchange.Discovery
	fmt.Printf("Enabled [%t] (y/n, blank to keep): ", d.Enabled)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		d.Enabled = strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
	}
	fmt.Printf("Mode [%s] (volume/listing, blank to keep): ", d.Mode)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		d.Mode = strings.ToLower(strings.TrimSpace(line))
	}
	fmt.Printf("Current excludes: %s\n", strings.Join(d.Exclude, ", "))
	fmt.Print("Enter excluded symbols comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		d.Exclude = nil
		for _, p := range strings.Split(strings.TrimSpace(line), ",") {
			if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
				d.Exclude = append(d.Exclude, trimmed)
			}
		}
	}
	d.MaxPairs = promptInt(reader, "Max pairs", d.MaxPairs)
	d.MinQuoteVolume = promptFloat(reader, "Min 24h quote volume", d.MinQuoteVolume)
}

func printHistory(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	positions, release, err := app.OpenPositions(ctx, *cfg)
	if err != nil {
		return err
	}
	defer release()

	open, err := positions.LoadOpenPositions(ctx)
	if err != nil {
		return err
	}
	trades, err := positions.ListCompletedTrades(ctx)
	if err != nil {
		return err
	}

	account, err := app.RestoreAccount(ctx, cfg, positions)
	if err != nil {
		return err
	}
	var history exchange.History = app.NewClient(cfg.Exchange, zerolog.Nop())
	if cfg.Exchange.Provider == exchange.ProviderStub {
		history = exchange.NewStub()
	}
	snap := app.MarkToMarket(ctx, account, open, history, cfg.Exchange.Interval)

	fmt.Println("\n--- Open Positions ---")
	symbols := make([]string, 0, len(open))
	for sym := range open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		pos := open[sym]
		fmt.Printf("%-12s entry %s qty %s high %s since %s unrealized %s\n", sym, pos.EntryPrice, pos.Quantity, pos.CurrentHigh, pos.EntryTime.Format(time.RFC3339), snap.Positions[sym].Unrealized.StringFixed(2))
	}
	if len(symbols) == 0 {
		fmt.Println("none")
	}

	fmt.Println("\n--- Paper Account ---")
	fmt.Printf("starting %s | cash %s | realized %s | equity %s\n",
		account.StartingCash().StringFixed(2), snap.Cash.StringFixed(2), snap.RealizedPnL.StringFixed(2), snap.Equity.StringFixed(2))

	fmt.Println("\n--- Completed Trades ---")
	total := decimal.Zero
	wins := 0
	for _, t := range trades {
		fmt.Printf("%-12s %-13s %s -> %s pnl %s (%s%%)\n", t.Symbol, t.Reason, t.EntryPrice, t.ExitPrice, t.ProfitLoss.StringFixed(2), t.ProfitLossPercent.StringFixed(2))
		total = total.Add(t.ProfitLoss)
		if t.Won() {
			wins++
		}
	}
	if len(trades) > 0 {
		fmt.Printf("trades %d | win rate %.1f%% | total pnl %s\n", len(trades), float64(wins)*100/float64(len(trades)), total.StringFixed(2))
	} else {
		fmt.Println("none")
	}
	return nil
}

func launchPaper(reader *bufio.Reader, path string) {
	fmt.Println("Launching paper bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/paper", "-config", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	return int(promptFloat(reader, label, float64(current)))
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}
