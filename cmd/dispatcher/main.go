// Command dispatcher consumes enriched probe events and fans notifications
// out to Telegram chats and team email groups.
//
// # Usage
//
//	dispatcher --config config.yaml
//
// Anti-spam state is process-local by default; set --redis-antispam to share
// the suppression window across instances.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pingtower/pingtower/internal/bus"
	"github.com/pingtower/pingtower/internal/config"
	"github.com/pingtower/pingtower/internal/dispatch"
	"github.com/pingtower/pingtower/internal/notify"
	"github.com/pingtower/pingtower/internal/store"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		redisAntispam = flag.Bool("redis-antispam", false, "Share the anti-spam window via Redis")
		debug         = flag.Bool("debug", false, "Enable debug logging")
		version       = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("pingtower-dispatcher v0.1.0")
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
	db, err := store.NewStoreFromURL(ctx, cfg.Database.MainURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	busConn, err := bus.Dial(cfg.Rabbit.URL, cfg.Rabbit, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()
	logger.Info("connected to rabbitmq")

	chat, err := notify.NewTelegramSender(cfg.Telegram.Token, logger.With("component", "telegram"))
	if err != nil {
		logger.Error("failed to connect telegram bot", "error", err)
		os.Exit(1)
	}
	mail := notify.NewEmailSender(cfg.Email, logger.With("component", "email"))

	window := time.Duration(cfg.Dispatcher.GroupingWindowSec) * time.Second
	var antispam dispatch.AntiSpam
	if *redisAntispam {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr(),
			DB:   cfg.Redis.DB,
		})
		defer client.Close()
		antispam = dispatch.NewRedisAntiSpam(client, window)
		logger.Info("using redis anti-spam", "addr", cfg.Redis.Addr(), "window", window)
	} else {
		antispam = dispatch.NewLocalAntiSpam(window)
	}

	dispatcher := dispatch.NewDispatcher(db, antispam, chat, mail,
		cfg.Dispatcher.AutocreateSites, cfg.Pinger.IntervalSec,
		logger.With("component", "dispatcher"))

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dispatcher started",
		"queue", cfg.Rabbit.DispatcherQueue, "grouping_window", window)
	if err := busConn.Consume(runCtx, cfg.Rabbit.DispatcherQueue, dispatcher.Handle); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
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
