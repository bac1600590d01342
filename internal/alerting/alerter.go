package alerting

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Key       string         `json:"key,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (Alert) EventType() string { return "ops.alert" }

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to the structured log. Critical alerts are
// written at error level so they surface in any log-based paging.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelWarn
	if alert.Severity == SeverityCritical {
		level = slog.LevelError
	}

	a.logger.Log(ctx, level, "alert raised",
		"type", alert.Type,
		"severity", alert.Severity,
		"message", alert.Message,
		"details", alert.Details,
	)
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// TopicAlerter publishes alerts to a message topic for the on-call pipeline.
type TopicAlerter struct {
	publisher Publisher
}

func NewTopicAlerter(publisher Publisher) *TopicAlerter {
	return &TopicAlerter{publisher: publisher}
}

func (a *TopicAlerter) Send(ctx context.Context, alert Alert) error {
	key := alert.Key
	if key == "" {
		key = alert.Type
	}
	return a.publisher.Publish(ctx, key, alert)
}

// Multi fans an alert out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, a := range m {
		if err := a.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stamp fills in the timestamp when the caller left it empty.
func Stamp(alert Alert, now time.Time) Alert {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = now.UTC()
	}
	return alert
}
