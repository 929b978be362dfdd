// Command archiver copies aged analytics rows from ClickHouse into the
// operational store. Run it once per pass, e.g. from cron:
//
//	archiver --config config.yaml --retention-days 30
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

	"github.com/pingtower/pingtower/internal/analytics"
	"github.com/pingtower/pingtower/internal/archive"
	"github.com/pingtower/pingtower/internal/config"
	"github.com/pingtower/pingtower/internal/store"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		retentionDays = flag.Int("retention-days", 30, "Archive rows older than this many days")
		debug         = flag.Bool("debug", false, "Enable debug logging")
		version       = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("pingtower-archiver v0.1.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, *debug)
	if cfg.Database.MainURL == "" {
		logger.Error("database.main_url is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.NewStoreFromURL(connCtx, cfg.Database.MainURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	chCtx, chCancel := context.WithTimeout(ctx, 10*time.Second)
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

	archiver := archive.New(analyticsClient, db,
		time.Duration(*retentionDays)*24*time.Hour,
		logger.With("component", "archiver"))

	n, err := archiver.Run(ctx)
	if err != nil {
		logger.Error("archive pass failed", "error", err)
		os.Exit(1)
	}
	logger.Info("done", "rows_archived", n)
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
