package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("uses defaults", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "")
		t.Setenv("PORT", "")

		cfg, err := Load("api")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "8080" {
			t.Errorf("expected default port 8080, got %s", cfg.Port)
		}
		if cfg.Checkout.ProgressTTL != 15*time.Minute {
			t.Errorf("expected 15m progress ttl, got %s", cfg.Checkout.ProgressTTL)
		}
		if cfg.Compensation.MaxAttempts != 3 {
			t.Errorf("expected 3 attempts, got %d", cfg.Compensation.MaxAttempts)
		}
	})

	t.Run("reads yaml file and lets env win", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
port: "9000"
webhook_secret: from-file
compensation:
  max_attempts: 5
  initial_delay: 250ms
scanner:
  interval: 1m
payment:
  declined_methods: ["stolen_card"]
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Setenv("CONFIG_FILE", path)
		t.Setenv("PORT", "9100")
		t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

		cfg, err := Load("api")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "9100" {
			t.Errorf("expected env port 9100, got %s", cfg.Port)
		}
		if cfg.WebhookSecret != "from-file" {
			t.Errorf("expected webhook secret from file, got %q", cfg.WebhookSecret)
		}
		if cfg.Compensation.MaxAttempts != 5 || cfg.Compensation.InitialDelay != 250*time.Millisecond {
			t.Errorf("unexpected compensation config: %+v", cfg.Compensation)
		}
		if cfg.Scanner.Interval != time.Minute {
			t.Errorf("expected 1m scan interval, got %s", cfg.Scanner.Interval)
		}
		if len(cfg.KafkaBrokers) != 2 {
			t.Errorf("expected 2 brokers, got %v", cfg.KafkaBrokers)
		}
		if len(cfg.Payment.DeclinedMethods) != 1 || cfg.Payment.DeclinedMethods[0] != "stolen_card" {
			t.Errorf("unexpected declined methods: %v", cfg.Payment.DeclinedMethods)
		}
	})

	t.Run("rejects bad durations", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "")
		t.Setenv("SCANNER_INTERVAL", "soon")

		if _, err := Load("auditor"); err == nil {
			t.Fatal("expected error for invalid duration")
		}
	})
}

func TestConfig_Require(t *testing.T) {
	cfg := Default("api")
	if err := cfg.Require("POSTGRES_URL"); err == nil {
		t.Fatal("expected missing POSTGRES_URL error")
	}

	cfg.PostgresURL = "postgres://localhost/shop"
	if err := cfg.Require("POSTGRES_URL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfig_LogLevel(t *testing.T) {
	cfg := Default("api")
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info level by default, got %s", cfg.LogLevel())
	}

	cfg.Environment = "development"
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level in development, got %s", cfg.LogLevel())
	}
}
