package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-ledger/internal/alerting"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

var scanTracer = otel.Tracer("audit/scanner")

const AlertTamperDetected = "TAMPER_DETECTED"

type ScanReport struct {
	Start           time.Time           `json:"start"`
	End             time.Time           `json:"end"`
	TotalScanned    int                 `json:"total_scanned"`
	TamperedCount   int                 `json:"tampered_count"`
	TamperedEntries []domain.AuditEntry `json:"tampered_entries"`
}

// Scanner recomputes checksums over a time range of the ledger. It only
// reports; tampered entries are left as they are.
type Scanner struct {
	store    Store
	alerter  alerting.Alerter
	logger   *slog.Logger
	security *slog.Logger
	now      func() time.Time
	tampered metric.Int64Counter
}

func NewScanner(store Store, alerter alerting.Alerter, logger *slog.Logger) *Scanner {
	tampered, err := meter.Int64Counter("audit_tamper_detected_total",
		metric.WithDescription("Audit entries whose checksum did not match"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Scanner{
		store:    store,
		alerter:  alerter,
		logger:   logger,
		security: logger.With("channel", "security"),
		now:      time.Now,
		tampered: tampered,
	}
}

func (s *Scanner) Scan(ctx context.Context, start, end time.Time) (*ScanReport, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: scan end is before start", domain.ErrInvalidRequest)
	}

	ctx, span := scanTracer.Start(ctx, "audit.scan", trace.WithAttributes(
		attribute.String("audit.scan.start", start.UTC().Format(time.RFC3339)),
		attribute.String("audit.scan.end", end.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	entries, err := s.store.ListRange(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	report := &ScanReport{
		Start:           start,
		End:             end,
		TotalScanned:    len(entries),
		TamperedEntries: []domain.AuditEntry{},
	}
	for i := range entries {
		if !Verify(&entries[i]) {
			report.TamperedEntries = append(report.TamperedEntries, entries[i])
		}
	}
	report.TamperedCount = len(report.TamperedEntries)

	span.SetAttributes(
		attribute.Int("audit.scan.total", report.TotalScanned),
		attribute.Int("audit.scan.tampered", report.TamperedCount),
	)

	if report.TamperedCount > 0 {
		s.tampered.Add(ctx, int64(report.TamperedCount))
		s.raise(ctx, report)
	}

	s.logger.InfoContext(ctx, "audit scan complete",
		"total_scanned", report.TotalScanned,
		"tampered_count", report.TamperedCount,
	)
	return report, nil
}

func (s *Scanner) raise(ctx context.Context, report *ScanReport) {
	ids := make([]string, len(report.TamperedEntries))
	for i, entry := range report.TamperedEntries {
		ids[i] = entry.ID
	}

	alert := alerting.Stamp(alerting.Alert{
		Type:     AlertTamperDetected,
		Severity: alerting.SeverityCritical,
		Message:  fmt.Sprintf("%d tampered audit entries detected", report.TamperedCount),
		Details: map[string]any{
			"entry_ids":  ids,
			"scan_start": report.Start.UTC(),
			"scan_end":   report.End.UTC(),
		},
	}, s.now())

	if err := s.alerter.Send(ctx, alert); err != nil {
		s.logger.ErrorContext(ctx, "failed to send tamper alert", "error", err, "tampered_count", report.TamperedCount)
	}

	s.security.ErrorContext(ctx, "tampering detected",
		"type", AlertTamperDetected,
		"alert_count", report.TamperedCount,
		"entry_ids", ids,
		"timestamp", s.now().UTC(),
	)
}

// Run scans the trailing window every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			end := s.now()
			if _, err := s.Scan(ctx, end.Add(-window), end); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled audit scan failed", "error", err)
			}
		}
	}
}
