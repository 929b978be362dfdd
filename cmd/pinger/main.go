// Command pinger runs the probe scheduler and the per-site prober loops.
//
// # Usage
//
//	pinger --config config.yaml
//
// Configuration comes from the YAML file plus PINGTOWER_* environment
// variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingtower/pingtower/db/migrate"
	"github.com/pingtower/pingtower/internal/analytics"
	"github.com/pingtower/pingtower/internal/bus"
	"github.com/pingtower/pingtower/internal/checks"
	"github.com/pingtower/pingtower/internal/config"
	"github.com/pingtower/pingtower/internal/prober"
	"github.com/pingtower/pingtower/internal/scheduler"
	"github.com/pingtower/pingtower/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("pingtower-pinger v0.1.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, *debug)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.NewStoreFromURL(ctx, cfg.PingerDatabaseURL())
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = migrate.Run(migrateCtx, db.Pool(), logger)
	migrateCancel()
	if err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	chCtx, chCancel := context.WithTimeout(context.Background(), 10*time.Second)
	analyticsClient, err := analytics.New(chCtx, analytics.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	}, logger)
	chCancel()
	if err != nil {
		logger.Error("failed to connect to clickhouse", "error", err)
		os.Exit(1)
	}
	defer analyticsClient.Close()
	logger.Info("connected to clickhouse")

	busConn, err := bus.Dial(cfg.Rabbit.URL, cfg.Rabbit, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()
	logger.Info("connected to rabbitmq")

	runner := prober.NewRunner(db, analyticsClient, busConn, checks.New(), prober.Options{
		Exchange:     cfg.Rabbit.PingerExchange,
		RoutingKey:   cfg.Rabbit.PingerRoutingKey,
		NotifyAlways: cfg.Pinger.NotifyAlways,
	}, logger.With("component", "prober"))

	sched := scheduler.New(db, runner,
		time.Duration(cfg.Pinger.IntervalSec)*time.Second,
		logger.With("component", "scheduler"))

	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(runCtx)
	}()
	logger.Info("pinger started", "default_interval_sec", cfg.Pinger.IntervalSec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	runCancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("prober loops did not stop in time")
	}
	logger.Info("shutdown complete")
}

func newLogger(level string, debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug || level == "debug" {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
