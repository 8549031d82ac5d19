package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/Calim38/sniper/internal/app"
	"github.com/Calim38/sniper/internal/config"
	"github.com/Calim38/sniper/internal/lock"
	"github.com/Calim38/sniper/internal/metrics"
	"github.com/Calim38/sniper/internal/util"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	envFile := flag.String("env", ".env", "dotenv file with exchange credentials")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	log := util.NewLogger("info", "json")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.LoadEnv(*envFile); err != nil {
		log.Fatal().Err(err).Msg("load env")
	}
	log = util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lk, err := lock.Acquire(ctx, cfg.Engine.LockPath, lock.DefaultTimeout)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Engine.LockPath).Msg("acquire instance lock")
	}
	defer lk.Release()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rt, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("build engine")
		return
	}
	defer rt.Close()
	rt.Start(ctx)

	log.Info().
		Str("provider", cfg.Exchange.Provider).
		Str("interval", cfg.Exchange.Interval).
		Int("symbols", len(rt.Feed.Symbols())).
		Str("balance", cfg.Paper.BalanceSource).
		Str("storage", cfg.Storage.Driver).
		Msg("paper engine started")

	if *once {
		if _, err := rt.Engine.RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("cycle failed")
		}
		return
	}

	if err := rt.Engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutting down")
}
