package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-ledger/internal/audit"
	"github.com/joao-fontenele/orderflow-ledger/internal/compensation"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
	"github.com/joao-fontenele/orderflow-ledger/internal/inventory"
	"github.com/joao-fontenele/orderflow-ledger/internal/payment"
)

var (
	tracer = otel.Tracer("orders")
	meter  = otel.Meter("orders")
)

const (
	ActionPaymentAuthorized = "PAYMENT_AUTHORIZED"
	ActionShipmentCreated   = "SHIPMENT_CREATED"
	ActionOrderCreated      = "ORDER_CREATED"
	ActionOrderFailed       = "ORDER_FAILED"
)

type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	UpdateState(ctx context.Context, id string, state domain.OrderState) (*domain.Order, error)
	AttachShipment(ctx context.Context, orderID, shipmentID string) error
	AppendAuditRef(ctx context.Context, orderID string, ref domain.AuditRef) error
}

type Inventory interface {
	Validate(ctx context.Context, items []domain.ItemRequest) (*inventory.Validation, error)
	Reserve(ctx context.Context, items []domain.LineItem) ([]domain.LineItem, error)
}

type Payments interface {
	Authorize(ctx context.Context, amount decimal.Decimal, method string) (*payment.Authorization, error)
}

type Shipments interface {
	CreateStub(ctx context.Context, order *domain.Order) (*domain.Shipment, error)
}

type Compensator interface {
	Compensate(ctx context.Context, f compensation.Failure) *compensation.Outcome
}

type Auditor interface {
	RecordAsync(ctx context.Context, ev audit.Event)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type SubmitRequest struct {
	Items           []domain.ItemRequest    `json:"items"`
	ShippingAddress *domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                  `json:"payment_method"`
	IdempotencyKey  string                  `json:"-"`
}

type Result struct {
	Order    *domain.Order
	Replayed bool
}

// Orchestrator runs the checkout pipeline: validate inventory, reserve it,
// authorize payment, persist the order, create its shipment and send a
// confirmation. A failure in any step before confirmation is handed to the
// compensator and returned to the caller unchanged. The orchestrator never
// retries.
type Orchestrator struct {
	orders      Store
	inventory   Inventory
	payments    Payments
	shipments   Shipments
	compensator Compensator
	auditor     Auditor
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time

	confirmations sync.WaitGroup
	submitted     metric.Int64Counter
}

// NewOrchestrator returns an Orchestrator. publisher may be nil, in which
// case confirmations are only logged.
func NewOrchestrator(
	orders Store,
	inv Inventory,
	payments Payments,
	shipments Shipments,
	compensator Compensator,
	auditor Auditor,
	publisher Publisher,
	logger *slog.Logger,
) *Orchestrator {
	submitted, err := meter.Int64Counter("orders_submitted_total",
		metric.WithDescription("Order submissions by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Orchestrator{
		orders:      orders,
		inventory:   inv,
		payments:    payments,
		shipments:   shipments,
		compensator: compensator,
		auditor:     auditor,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		submitted:   submitted,
	}
}

// pipeline tracks the side effects of one submission so a failure can be
// unwound.
type pipeline struct {
	orderID    string
	actorID    string
	validation *inventory.Validation
	reserved   []domain.LineItem
	auth       *payment.Authorization
	order      *domain.Order
	shipment   *domain.Shipment
}

func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest, actorID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "orders.submit", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.Bool("order.idempotent", req.IdempotencyKey != ""),
	))
	defer span.End()

	if req.IdempotencyKey != "" {
		existing, err := o.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.count(ctx, "failed")
			return nil, fmt.Errorf("look up idempotency key: %w", err)
		}
		if existing != nil {
			return o.replay(ctx, span, existing, actorID)
		}
	}

	p := &pipeline{orderID: uuid.NewString(), actorID: actorID}
	span.SetAttributes(attribute.String("order.id", p.orderID))

	steps := []struct {
		step compensation.Step
		run  func(context.Context, *pipeline, SubmitRequest) error
	}{
		{compensation.StepPrecondition, o.checkPreconditions},
		{compensation.StepValidateInventory, o.validateInventory},
		{compensation.StepReserveInventory, o.reserveInventory},
		{compensation.StepAuthorizePayment, o.authorizePayment},
		{compensation.StepPersistOrder, o.persistOrder},
		{compensation.StepCreateShipment, o.createShipment},
	}

	for _, s := range steps {
		err := o.runStep(ctx, s.step, func(ctx context.Context) error { return s.run(ctx, p, req) })
		if err == nil {
			continue
		}

		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key won the insert.
			winner, lookupErr := o.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && winner != nil {
				o.compensate(ctx, p, s.step, err, true)
				return o.replay(ctx, span, winner, actorID)
			}
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, p, s.step, err)
		return nil, err
	}

	o.auditor.RecordAsync(ctx, audit.Event{
		Action:   ActionOrderCreated,
		Actor:    actorID,
		Resource: "/orders/" + p.order.ID,
		Method:   "POST",
		Metadata: map[string]any{
			"total":           p.order.Total.StringFixed(2),
			"items":           len(p.order.Items),
			"tracking_number": trackingFrom(p.order),
		},
	})

	o.confirm(ctx, p.order)
	o.count(ctx, "created")

	o.logger.InfoContext(ctx, "order created",
		"order_id", p.order.ID,
		"user_id", actorID,
		"total", p.order.Total.StringFixed(2),
	)
	return &Result{Order: p.order}, nil
}

func (o *Orchestrator) replay(ctx context.Context, span trace.Span, existing *domain.Order, actorID string) (*Result, error) {
	if existing.UserID != actorID {
		o.count(ctx, "rejected")
		return nil, fmt.Errorf("%w: idempotency key already used", domain.ErrInvalidRequest)
	}

	span.SetAttributes(
		attribute.String("order.id", existing.ID),
		attribute.Bool("order.replayed", true),
	)
	o.count(ctx, "replayed")
	o.logger.InfoContext(ctx, "order already processed", "order_id", existing.ID, "user_id", actorID)
	return &Result{Order: existing, Replayed: true}, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step compensation.Step, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "orders."+string(step))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) checkPreconditions(_ context.Context, _ *pipeline, req SubmitRequest) error {
	if !req.ShippingAddress.Complete() {
		return fmt.Errorf("%w: shipping address is required", domain.ErrInvalidRequest)
	}
	if req.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method is required", domain.ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", domain.ErrInvalidRequest)
	}
	return nil
}

func (o *Orchestrator) validateInventory(ctx context.Context, p *pipeline, req SubmitRequest) error {
	v, err := o.inventory.Validate(ctx, req.Items)
	if err != nil {
		return err
	}
	p.validation = v
	return nil
}

func (o *Orchestrator) reserveInventory(ctx context.Context, p *pipeline, _ SubmitRequest) error {
	reserved, err := o.inventory.Reserve(ctx, p.validation.Items)
	p.reserved = reserved
	return err
}

func (o *Orchestrator) authorizePayment(ctx context.Context, p *pipeline, req SubmitRequest) error {
	auth, err := o.payments.Authorize(ctx, p.validation.Total, req.PaymentMethod)
	if err != nil {
		return err
	}
	p.auth = auth
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("payment.authorization_id", auth.ID))
	return nil
}

func (o *Orchestrator) persistOrder(ctx context.Context, p *pipeline, req SubmitRequest) error {
	now := o.now().UTC()
	order := &domain.Order{
		ID:              p.orderID,
		UserID:          p.actorID,
		Items:           p.validation.Items,
		Total:           p.validation.Total,
		State:           domain.OrderStateProcessing,
		ShippingAddress: *req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  req.IdempotencyKey,
		AuditRefs: []domain.AuditRef{{
			Action:    ActionPaymentAuthorized,
			Timestamp: now,
			Actor:     p.actorID,
			Metadata: map[string]any{
				"authorization_id": p.auth.ID,
				"amount":           p.auth.Amount.StringFixed(2),
				"method":           p.auth.Method,
			},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.orders.Create(ctx, order); err != nil {
		return err
	}
	p.order = order
	return nil
}

func (o *Orchestrator) createShipment(ctx context.Context, p *pipeline, _ SubmitRequest) error {
	if p.order.ShipmentID != "" {
		return nil
	}

	shipment, err := o.shipments.CreateStub(ctx, p.order)
	if err != nil {
		return err
	}
	p.shipment = shipment
	if err := o.orders.AttachShipment(ctx, p.order.ID, shipment.ID); err != nil {
		return fmt.Errorf("attach shipment: %w", err)
	}
	p.order.ShipmentID = shipment.ID

	ref := domain.AuditRef{
		Action:    ActionShipmentCreated,
		Timestamp: o.now().UTC(),
		Actor:     p.actorID,
		Metadata: map[string]any{
			"shipment_id":     shipment.ID,
			"tracking_number": shipment.TrackingNumber,
			"carrier":         string(shipment.Carrier),
		},
	}
	if err := o.orders.AppendAuditRef(ctx, p.order.ID, ref); err != nil {
		o.logger.WarnContext(ctx, "failed to append audit ref", "error", err, "order_id", p.order.ID)
	} else {
		p.order.AuditRefs = append(p.order.AuditRefs, ref)
	}
	return nil
}

func (o *Orchestrator) compensate(ctx context.Context, p *pipeline, step compensation.Step, cause error, superseded bool) {
	o.compensator.Compensate(ctx, compensation.Failure{
		OrderID:       p.orderID,
		Actor:         p.actorID,
		Step:          step,
		Cause:         cause,
		Reserved:      p.reserved,
		Authorization: p.auth,
		Shipment:      p.shipment,
		Superseded:    superseded,
	})
}

func (o *Orchestrator) fail(ctx context.Context, p *pipeline, step compensation.Step, cause error) {
	o.compensate(ctx, p, step, cause, false)

	o.auditor.RecordAsync(ctx, audit.Event{
		Action:   ActionOrderFailed,
		Actor:    p.actorID,
		Resource: "/orders/" + p.orderID,
		Method:   "POST",
		Metadata: map[string]any{
			"step":  string(step),
			"error": cause.Error(),
		},
	})

	outcome := "failed"
	if isRejection(cause) {
		outcome = "rejected"
	}
	o.count(ctx, outcome)

	o.logger.WarnContext(ctx, "order submission failed",
		"order_id", p.orderID,
		"user_id", p.actorID,
		"step", step,
		"error", cause,
	)
}

// confirm publishes the confirmation in the background. Its outcome never
// affects the order.
func (o *Orchestrator) confirm(ctx context.Context, order *domain.Order) {
	ctx = context.WithoutCancel(ctx)
	event := domain.OrderConfirmedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Items:     order.Items,
		Total:     order.Total,
		Tracking:  trackingFrom(order),
		Timestamp: o.now().UTC(),
	}

	o.confirmations.Add(1)
	go func() {
		defer o.confirmations.Done()

		ctx, span := tracer.Start(ctx, "orders.send_confirmation", trace.WithAttributes(
			attribute.String("order.id", order.ID),
		))
		defer span.End()

		if o.publisher == nil {
			o.logger.InfoContext(ctx, "order confirmation skipped, no publisher", "order_id", order.ID)
			return
		}
		if err := o.publisher.Publish(ctx, order.ID, event); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.ErrorContext(ctx, "failed to publish order confirmation", "error", err, "order_id", order.ID)
		}
	}()
}

// Wait blocks until background confirmations have finished.
func (o *Orchestrator) Wait() {
	o.confirmations.Wait()
}

func (o *Orchestrator) count(ctx context.Context, outcome string) {
	o.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrProductUnavailable) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrPaymentRejected)
}

// tracking numbers are not stored on the order; the shipment stub's audit
// ref carries it.
func trackingFrom(order *domain.Order) string {
	for i := len(order.AuditRefs) - 1; i >= 0; i-- {
		if order.AuditRefs[i].Action == ActionShipmentCreated {
			if tn, ok := order.AuditRefs[i].Metadata["tracking_number"].(string); ok {
				return tn
			}
		}
	}
	return ""
}
