// Command admin serves the HTTP CRUD interface for sites, teams and users.
//
// # Usage
//
//	admin --config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingtower/pingtower/db/migrate"
	"github.com/pingtower/pingtower/internal/analytics"
	"github.com/pingtower/pingtower/internal/api"
	"github.com/pingtower/pingtower/internal/config"
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
		fmt.Println("pingtower-admin v0.1.0")
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.NewStoreFromURL(ctx, cfg.Database.MainURL)
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

	// ClickHouse is optional for the admin API; without it only the uptime
	// endpoint is disabled.
	var uptime api.UptimeReader
	chCtx, chCancel := context.WithTimeout(context.Background(), 10*time.Second)
	analyticsClient, err := analytics.New(chCtx, analytics.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	}, logger)
	chCancel()
	if err != nil {
		logger.Warn("clickhouse unavailable, uptime stats disabled", "error", err)
	} else {
		defer analyticsClient.Close()
		uptime = analyticsClient
	}

	apiServer := api.NewServer(db, uptime, logger.With("component", "api"))
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Backend.Host, cfg.Backend.Port),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting admin api", "addr", server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
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
