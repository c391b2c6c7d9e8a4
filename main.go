package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matching-exchange/internal/api"
	"matching-exchange/internal/config"
	"matching-exchange/internal/engine"
	"matching-exchange/internal/logger"
	"matching-exchange/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	envFile := flag.String("env", ".env", "optional .env file with EXCHANGE_* overrides")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "exchange: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.LoadWithEnvOverrides(configPath, envFile)
	if err != nil {
		return err
	}

	log, level, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Prices and profits go out as JSON numbers, as the web front end expects.
	decimal.MarshalJSONWithoutQuotes = true

	collector := metrics.New(cfg.Metrics.Namespace)
	ex, err := engine.NewExchange(cfg.Instruments,
		engine.WithLogger(log.Named("engine")),
		engine.WithRecorder(collector),
	)
	if err != nil {
		return fmt.Errorf("create exchange: %w", err)
	}
	srv := api.NewServer(ex, cfg.Server,
		api.WithLogger(log.Named("api")),
		api.WithMetrics(collector, cfg.Metrics.Path),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("exchange starting",
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.Strings("instruments", ex.Instruments()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		w := config.Watcher{Path: configPath, EnvFile: envFile, Log: log.Named("config")}
		return w.Start(ctx, func(next config.Config) {
			applyReload(log, level, cfg, next)
		})
	})

	err = g.Wait()
	log.Info("exchange stopped")
	return err
}

// applyReload applies the parts of a new config that can change while
// running. Everything else needs a restart.
func applyReload(log *zap.Logger, level zap.AtomicLevel, current, next config.Config) {
	if next.Log.Level != level.String() {
		if err := logger.SetLevel(level, next.Log.Level); err != nil {
			log.Warn("log level not changed", zap.Error(err))
		} else {
			log.Info("log level changed", zap.String("level", next.Log.Level))
		}
	}
	if !slices.Equal(current.Instruments, next.Instruments) {
		log.Warn("instrument changes need a restart; ignoring",
			zap.Strings("configured", next.Instruments))
	}
	if current.Server.Addr != next.Server.Addr {
		log.Warn("server address changes need a restart; ignoring", zap.String("addr", next.Server.Addr))
	}
}
