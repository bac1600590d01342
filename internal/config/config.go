package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process configuration. Tunables may come from a YAML file
// named by CONFIG_FILE; environment variables always win.
type Config struct {
	ServiceName    string   `yaml:"service_name"`
	ServiceVersion string   `yaml:"service_version"`
	Port           string   `yaml:"port"`
	Environment    string   `yaml:"environment"`
	PostgresURL    string   `yaml:"postgres_url"`
	RedisURL       string   `yaml:"redis_url"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	AuthSecret     string   `yaml:"auth_secret"`

	Topics       Topics       `yaml:"topics"`
	Compensation Compensation `yaml:"compensation"`
	Scanner      Scanner      `yaml:"scanner"`
	Alerts       Alerts       `yaml:"alerts"`
	Checkout     Checkout     `yaml:"checkout"`
	Payment      Payment      `yaml:"payment"`
}

type Topics struct {
	OrderConfirmed  string `yaml:"order_confirmed"`
	ShipmentUpdated string `yaml:"shipment_updated"`
	Alerts          string `yaml:"alerts"`
}

type Compensation struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

type Scanner struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
}

type Alerts struct {
	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

type Checkout struct {
	ProgressTTL time.Duration `yaml:"progress_ttl"`
}

type Payment struct {
	DeclinedMethods []string `yaml:"declined_methods"`
}

func Default(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Port:           "8080",
		Environment:    "production",
		OTLPEndpoint:   "localhost:4317",
		Topics: Topics{
			OrderConfirmed:  "order.confirmed",
			ShipmentUpdated: "shipment.updated",
			Alerts:          "ops.alerts",
		},
		Compensation: Compensation{MaxAttempts: 3, InitialDelay: time.Second},
		Scanner:      Scanner{Interval: 15 * time.Minute, Window: 24 * time.Hour},
		Alerts:       Alerts{ThrottleWindow: 5 * time.Minute},
		Checkout:     Checkout{ProgressTTL: 15 * time.Minute},
	}
}

// Load builds the configuration for serviceName from defaults, the optional
// CONFIG_FILE and the environment, in that order.
func Load(serviceName string) (Config, error) {
	cfg := Default(serviceName)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.mergeEnv(os.Getenv); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Port, "PORT")
	setString(&c.Environment, "APP_ENV")
	setString(&c.PostgresURL, "POSTGRES_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.WebhookSecret, "WEBHOOK_SECRET")
	setString(&c.AuthSecret, "AUTH_SECRET")

	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = strings.Split(v, ",")
	}
	if v := getenv("PAYMENT_DECLINED_METHODS"); v != "" {
		c.Payment.DeclinedMethods = strings.Split(v, ",")
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"COMPENSATION_INITIAL_DELAY", &c.Compensation.InitialDelay},
		{"SCANNER_INTERVAL", &c.Scanner.Interval},
		{"SCANNER_WINDOW", &c.Scanner.Window},
		{"ALERT_THROTTLE_WINDOW", &c.Alerts.ThrottleWindow},
		{"CHECKOUT_PROGRESS_TTL", &c.Checkout.ProgressTTL},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := getenv("COMPENSATION_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMPENSATION_MAX_ATTEMPTS: %w", err)
		}
		c.Compensation.MaxAttempts = n
	}

	return nil
}

// Production is true unless APP_ENV is development.
func (c Config) Production() bool {
	return c.Environment != "development"
}

// LogLevel is debug in development and info everywhere else.
func (c Config) LogLevel() slog.Level {
	if c.Production() {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// Require reports the first missing value among the named settings.
func (c Config) Require(names ...string) error {
	values := map[string]string{
		"POSTGRES_URL":   c.PostgresURL,
		"REDIS_URL":      c.RedisURL,
		"WEBHOOK_SECRET": c.WebhookSecret,
		"AUTH_SECRET":    c.AuthSecret,
		"KAFKA_BROKERS":  strings.Join(c.KafkaBrokers, ","),
	}
	for _, name := range names {
		v, known := values[name]
		if !known {
			return fmt.Errorf("unknown setting %s", name)
		}
		if v == "" {
			return errors.New(name + " environment variable is required")
		}
	}
	if c.Compensation.MaxAttempts < 1 {
		return errors.New("compensation.max_attempts must be at least 1")
	}
	return nil
}
