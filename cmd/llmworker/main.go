// Command llmworker consumes raw probe events, optionally asks the model for
// a short explanation, and republishes the enriched events.
//
// # Usage
//
//	llmworker --config config.yaml
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

	"github.com/pingtower/pingtower/internal/bus"
	"github.com/pingtower/pingtower/internal/config"
	"github.com/pingtower/pingtower/internal/llm"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("pingtower-llmworker v0.1.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, *debug)
	if cfg.Rabbit.URL == "" {
		logger.Error("rabbit.url is required")
		os.Exit(1)
	}

	var completer llm.Completer
	if cfg.LLM.APIKey != "" {
		completer = llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
		logger.Info("model client configured", "model", cfg.LLM.Model)
	} else {
		logger.Warn("llm api key not configured, events pass through without explanations")
	}

	busConn, err := bus.Dial(cfg.Rabbit.URL, cfg.Rabbit, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()
	logger.Info("connected to rabbitmq")

	worker := llm.NewWorker(completer, busConn, cfg.LLM,
		cfg.Rabbit.LLMExchange, cfg.Rabbit.LLMRoutingKey,
		logger.With("component", "llmworker"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("llm worker started", "queue", cfg.Rabbit.PingerLLMQueue)
	if err := busConn.Consume(ctx, cfg.Rabbit.PingerLLMQueue, worker.Handle); err != nil &&
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
