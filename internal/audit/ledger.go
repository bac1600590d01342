package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

var meter = otel.Meter("audit")

// Store is the append-only persistence behind the ledger. Implementations
// must not expose any way to change or remove an entry once inserted.
type Store interface {
	Insert(ctx context.Context, entry *domain.AuditEntry) error
	ListRange(ctx context.Context, start, end time.Time) ([]domain.AuditEntry, error)
}

type Event struct {
	Action    string
	Actor     string
	IPAddress string
	UserAgent string
	Resource  string
	Method    string
	Metadata  map[string]any
}

type Ledger struct {
	store         Store
	logger        *slog.Logger
	now           func() time.Time
	pending       sync.WaitGroup
	writeFailures metric.Int64Counter
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	writeFailures, err := meter.Int64Counter("audit_write_failures_total",
		metric.WithDescription("Audit entries that could not be written"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Ledger{
		store:         store,
		logger:        logger,
		now:           time.Now,
		writeFailures: writeFailures,
	}
}

// Append redacts, checksums and stores an entry, returning any store error.
func (l *Ledger) Append(ctx context.Context, ev Event) (*domain.AuditEntry, error) {
	metadata, err := normalizeMetadata(Redact(ev.Metadata))
	if err != nil {
		return nil, fmt.Errorf("encode audit metadata: %w", err)
	}

	entry := &domain.AuditEntry{
		ID:        uuid.NewString(),
		Action:    ev.Action,
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
		Resource:  ev.Resource,
		Method:    ev.Method,
		Metadata:  metadata,
		Timestamp: canonicalTime(l.now()),
	}
	if ev.Actor != "" {
		actor := ev.Actor
		entry.Actor = &actor
	}

	entry.Checksum, err = Checksum(entry)
	if err != nil {
		return nil, fmt.Errorf("checksum audit entry: %w", err)
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	return entry, nil
}

// Record is Append for callers whose business operation must not fail
// because of auditing. Failures are logged and counted, and nil is returned.
func (l *Ledger) Record(ctx context.Context, ev Event) *domain.AuditEntry {
	entry, err := l.Append(ctx, ev)
	if err != nil {
		l.writeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", ev.Action)))
		l.logger.ErrorContext(ctx, "failed to write audit entry", "error", err, "action", ev.Action, "resource", ev.Resource)
		return nil
	}
	return entry
}

// RecordAsync writes the entry in the background. The request context's
// cancellation is dropped but its trace is kept.
func (l *Ledger) RecordAsync(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.Record(ctx, ev)
	}()
}

// Wait blocks until every RecordAsync write has finished.
func (l *Ledger) Wait() {
	l.pending.Wait()
}
