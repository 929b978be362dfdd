package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Pinger.IntervalSec != 30 {
		t.Errorf("default interval = %d, want 30", cfg.Pinger.IntervalSec)
	}
	if cfg.Dispatcher.GroupingWindowSec != 60 {
		t.Errorf("default grouping window = %d, want 60", cfg.Dispatcher.GroupingWindowSec)
	}
	if cfg.Rabbit.PingerExchange != "pinger.events" || cfg.Rabbit.LLMExchange != "llm.events" {
		t.Errorf("default exchanges = %q / %q", cfg.Rabbit.PingerExchange, cfg.Rabbit.LLMExchange)
	}
	if cfg.Rabbit.DispatcherQueue != "llm-to-dispatcher-queue" {
		t.Errorf("default dispatcher queue = %q", cfg.Rabbit.DispatcherQueue)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log_level: debug
database:
  main_url: postgres://localhost/pt
pinger:
  interval_sec: 5
  notify_always: true
dispatcher:
  grouping_window_sec: 120
rabbit:
  url: amqp://localhost/
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Pinger.IntervalSec != 5 || !cfg.Pinger.NotifyAlways {
		t.Errorf("pinger = %+v", cfg.Pinger)
	}
	if cfg.Dispatcher.GroupingWindowSec != 120 {
		t.Errorf("grouping window = %d", cfg.Dispatcher.GroupingWindowSec)
	}
	// Unset keys keep their defaults.
	if cfg.Rabbit.PingerExchange != "pinger.events" {
		t.Errorf("pinger exchange lost default: %q", cfg.Rabbit.PingerExchange)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PINGTOWER_DATABASE_URL", "postgres://env/db")
	t.Setenv("PINGTOWER_GROUPING_WINDOW_SEC", "0")
	t.Setenv("PINGTOWER_NOTIFY_ALWAYS", "true")
	t.Setenv("PINGTOWER_TELEGRAM_ADMIN_IDS", "1, 2;3")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Database.MainURL != "postgres://env/db" {
		t.Errorf("database url = %q", cfg.Database.MainURL)
	}
	if cfg.Dispatcher.GroupingWindowSec != 0 {
		t.Errorf("grouping window = %d, want 0 (explicit zero)", cfg.Dispatcher.GroupingWindowSec)
	}
	if !cfg.Pinger.NotifyAlways {
		t.Error("notify_always not applied")
	}
	if len(cfg.Telegram.AdminIDs) != 3 || cfg.Telegram.AdminIDs[2] != 3 {
		t.Errorf("admin ids = %v", cfg.Telegram.AdminIDs)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate without database url: want error")
	}
	cfg.Database.MainURL = "postgres://x"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate without rabbit url: want error")
	}
	cfg.Rabbit.URL = "amqp://x"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
