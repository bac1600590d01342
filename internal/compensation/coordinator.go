package compensation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-ledger/internal/alerting"
	"github.com/joao-fontenele/orderflow-ledger/internal/audit"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
	"github.com/joao-fontenele/orderflow-ledger/internal/payment"
)

var (
	tracer = otel.Tracer("compensation")
	meter  = otel.Meter("compensation")
)

// LevelCritical sits above slog.LevelError. It marks failures that need an
// operator.
const LevelCritical = slog.Level(12)

const (
	AlertOrderFailure       = "ORDER_FAILURE"
	AlertCompensationFailed = "COMPENSATION_FAILED"
)

// Step identifies the pipeline step an order failed at. Steps are ordered.
type Step string

const (
	StepPrecondition      Step = "precondition"
	StepValidateInventory Step = "validate_inventory"
	StepReserveInventory  Step = "reserve_inventory"
	StepAuthorizePayment  Step = "authorize_payment"
	StepPersistOrder      Step = "persist_order"
	StepCreateShipment    Step = "create_shipment"
)

var stepRank = map[Step]int{
	StepPrecondition:      0,
	StepValidateInventory: 1,
	StepReserveInventory:  2,
	StepAuthorizePayment:  3,
	StepPersistOrder:      4,
	StepCreateShipment:    5,
}

func (s Step) AtOrAfter(other Step) bool {
	return stepRank[s] >= stepRank[other]
}

// Failure describes what a failed pipeline had done before it stopped.
type Failure struct {
	OrderID       string
	Actor         string
	Step          Step
	Cause         error
	Reserved      []domain.LineItem
	Authorization *payment.Authorization
	Shipment      *domain.Shipment

	// Superseded marks a submission that lost an idempotency race to an
	// order that was created. Its side effects are undone without an alert.
	Superseded bool
}

type Outcome struct {
	Released          bool
	Refunded          bool
	ShipmentCancelled bool
	Cancelled         bool
	Failed            []string
}

type Releaser interface {
	Release(ctx context.Context, items []domain.LineItem) error
}

type Refunder interface {
	Refund(ctx context.Context, auth *payment.Authorization) error
}

type ShipmentCanceller interface {
	Cancel(ctx context.Context, trackingNumber string) (*domain.Shipment, error)
}

type OrderStateUpdater interface {
	UpdateState(ctx context.Context, id string, state domain.OrderState) (*domain.Order, error)
}

type Auditor interface {
	Record(ctx context.Context, ev audit.Event) *domain.AuditEntry
}

type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Sleep        SleepFunc
}

// Coordinator unwinds the side effects of a failed order. It never returns
// an error: a compensating action that still fails after retries is logged
// at LevelCritical, alerted, audited and counted, and the remaining actions
// run anyway.
type Coordinator struct {
	inventory Releaser
	payments  Refunder
	shipments ShipmentCanceller
	orders    OrderStateUpdater
	alerter   alerting.Alerter
	auditor   Auditor
	policy    RetryPolicy
	logger    *slog.Logger
	now       func() time.Time

	compensations metric.Int64Counter
	failures      metric.Int64Counter
}

func NewCoordinator(
	inventory Releaser,
	payments Refunder,
	shipments ShipmentCanceller,
	orders OrderStateUpdater,
	alerter alerting.Alerter,
	auditor Auditor,
	policy RetryPolicy,
	logger *slog.Logger,
) *Coordinator {
	if policy.Sleep == nil {
		policy.Sleep = Sleep
	}

	compensations, err := meter.Int64Counter("compensations_total",
		metric.WithDescription("Failed orders handed to compensation, by failing step"),
	)
	if err != nil {
		otel.Handle(err)
	}
	failures, err := meter.Int64Counter("compensation_failures_total",
		metric.WithDescription("Compensating actions that failed after retries"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Coordinator{
		inventory:     inventory,
		payments:      payments,
		shipments:     shipments,
		orders:        orders,
		alerter:       alerter,
		auditor:       auditor,
		policy:        policy,
		logger:        logger,
		now:           time.Now,
		compensations: compensations,
		failures:      failures,
	}
}

// Compensate releases reservations, refunds a payment authorized before the
// failure, cancels the shipment stub and the order and raises an alert, in
// that order. Superseded failures are not alerted. It ignores cancellation
// of ctx.
func (c *Coordinator) Compensate(ctx context.Context, f Failure) *Outcome {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "compensation.compensate", trace.WithAttributes(
		attribute.String("order.id", f.OrderID),
		attribute.String("compensation.step", string(f.Step)),
	))
	defer span.End()

	c.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("step", string(f.Step))))
	level := slog.LevelError
	if f.Superseded {
		level = slog.LevelInfo
	}
	c.logger.Log(ctx, level, "order failed, compensating",
		"order_id", f.OrderID,
		"step", f.Step,
		"superseded", f.Superseded,
		"error", f.Cause,
	)

	outcome := &Outcome{}

	if len(f.Reserved) > 0 {
		outcome.Released = c.run(ctx, f, "release_inventory", func(ctx context.Context) error {
			return c.inventory.Release(ctx, f.Reserved)
		}, outcome)
	}

	if f.Step.AtOrAfter(StepAuthorizePayment) && f.Authorization != nil {
		outcome.Refunded = c.run(ctx, f, "refund_payment", func(ctx context.Context) error {
			return c.payments.Refund(ctx, f.Authorization)
		}, outcome)
	}

	if f.Shipment != nil {
		outcome.ShipmentCancelled = c.run(ctx, f, "cancel_shipment", func(ctx context.Context) error {
			_, err := c.shipments.Cancel(ctx, f.Shipment.TrackingNumber)
			return err
		}, outcome)
	}

	c.run(ctx, f, "cancel_order", func(ctx context.Context) error {
		order, err := c.orders.UpdateState(ctx, f.OrderID, domain.OrderStateCancelled)
		if errors.Is(err, domain.ErrInvalidTransition) {
			c.logger.WarnContext(ctx, "order already terminal, not cancelling", "order_id", f.OrderID)
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Cancelled = order != nil
		return nil
	}, outcome)

	span.SetAttributes(attribute.Int("compensation.failed_actions", len(outcome.Failed)))
	if f.Superseded {
		return outcome
	}

	cause := ""
	if f.Cause != nil {
		cause = f.Cause.Error()
	}
	c.alert(ctx, alerting.Alert{
		Type:     AlertOrderFailure,
		Severity: alerting.SeverityHigh,
		Message:  fmt.Sprintf("order %s failed at %s", f.OrderID, f.Step),
		Details: map[string]any{
			"order_id":       f.OrderID,
			"failure_step":   f.Step,
			"error":          cause,
			"failed_actions": outcome.Failed,
		},
	})
	return outcome
}

func (c *Coordinator) run(ctx context.Context, f Failure, action string, op func(context.Context) error, outcome *Outcome) bool {
	err := Retry(ctx, c.policy.Sleep, c.policy.MaxAttempts, c.policy.InitialDelay, op)
	if err == nil {
		return true
	}

	outcome.Failed = append(outcome.Failed, action)
	critical := fmt.Errorf("%w: %s: %w", domain.ErrCriticalCompensationFailure, action, err)

	c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	c.logger.Log(ctx, LevelCritical, "compensation action failed, manual intervention required",
		"severity", "critical",
		"order_id", f.OrderID,
		"step", f.Step,
		"action", action,
		"error", critical,
	)

	c.alert(ctx, alerting.Alert{
		Type:     AlertCompensationFailed,
		Severity: alerting.SeverityCritical,
		Message:  fmt.Sprintf("%s failed for order %s", action, f.OrderID),
		Details: map[string]any{
			"order_id": f.OrderID,
			"step":     f.Step,
			"action":   action,
			"error":    err.Error(),
		},
	})

	c.auditor.Record(ctx, audit.Event{
		Action:   AlertCompensationFailed,
		Actor:    f.Actor,
		Resource: "/orders/" + f.OrderID,
		Method:   "INTERNAL",
		Metadata: map[string]any{
			"step":   string(f.Step),
			"action": action,
			"error":  err.Error(),
		},
	})
	return false
}

func (c *Coordinator) alert(ctx context.Context, alert alerting.Alert) {
	if err := c.alerter.Send(ctx, alerting.Stamp(alert, c.now())); err != nil {
		c.logger.ErrorContext(ctx, "failed to send alert", "error", err, "type", alert.Type)
	}
}
