package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Calim38/sniper/internal/app"
	"github.com/Calim38/sniper/internal/config"
	"github.com/Calim38/sniper/internal/exchange"
	"github.com/Calim38/sniper/internal/util"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	flag.Parse()

	log := util.NewLogger("info", "console")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	disc := cfg.Exchange.Discovery
	disc.Enabled = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := app.NewClient(cfg.Exchange, log)
	feed := exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Symbols, log, exchange.WithHistory(client))
	d := exchange.NewDiscovery(log, feed, client, cfg.Exchange.Symbols, cfg.Exchange.QuoteAsset, disc)

	pairs, err := d.Discover(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%-16s %20s\n", "SYMBOL", "24H QUOTE VOLUME")
	for _, p := range pairs {
		fmt.Printf("%-16s %20s\n", p.Symbol, p.QuoteVolume.StringFixed(0))
	}
	fmt.Printf("\n%d pairs (mode %s, quote %s)\n", len(pairs), disc.Mode, cfg.Exchange.QuoteAsset)
}
