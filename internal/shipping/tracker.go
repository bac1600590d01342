package shipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

var tracer = otel.Tracer("shipping")

const (
	stubLocation         = "Origin facility"
	stubDescription      = "Order created"
	cancelledDescription = "Order cancelled"
)

type Store interface {
	Create(ctx context.Context, shipment *domain.Shipment) error
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error)
	Mutate(ctx context.Context, trackingNumber string, fn func(*domain.Shipment) error) (*domain.Shipment, error)
}

type OrderStateUpdater interface {
	UpdateState(ctx context.Context, id string, state domain.OrderState) (*domain.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// CarrierEvent is a status update reported by a carrier for one tracking
// number.
type CarrierEvent struct {
	Carrier         domain.Carrier          `json:"carrier"`
	TrackingNumber  string                  `json:"tracking_number"`
	Status          domain.ShipmentStatus   `json:"status"`
	Location        string                  `json:"location"`
	Timestamp       time.Time               `json:"timestamp"`
	Description     string                  `json:"description,omitempty"`
	ProofOfDelivery *domain.ProofOfDelivery `json:"proof_of_delivery,omitempty"`
}

type Tracker struct {
	shipments Store
	orders    OrderStateUpdater
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker returns a Tracker. publisher may be nil, in which case no
// shipment.updated notifications are sent.
func NewTracker(shipments Store, orders OrderStateUpdater, publisher Publisher, logger *slog.Logger) *Tracker {
	return &Tracker{
		shipments: shipments,
		orders:    orders,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func NewTrackingNumber() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// CreateStub creates the initial pending shipment for an order. If the order
// already has a shipment, that shipment is returned unchanged.
func (t *Tracker) CreateStub(ctx context.Context, order *domain.Order) (*domain.Shipment, error) {
	existing, err := t.shipments.GetByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("look up shipment: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := t.now().UTC()
	shipment := &domain.Shipment{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		UserID:          order.UserID,
		Carrier:         domain.DefaultCarrier,
		TrackingNumber:  NewTrackingNumber(),
		Status:          domain.ShipmentStatusPending,
		CurrentLocation: stubLocation,
		Timeline: []domain.TimelineEvent{{
			Status:      domain.ShipmentStatusPending,
			Location:    stubLocation,
			Timestamp:   now,
			Description: stubDescription,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := t.shipments.Create(ctx, shipment); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}

	t.logger.InfoContext(ctx, "shipment stub created",
		"order_id", order.ID,
		"tracking_number", shipment.TrackingNumber,
	)
	return shipment, nil
}

// ApplyCarrierEvent records a carrier status update. An unknown tracking
// number fails with ErrShipmentNotFound and changes nothing. A delivered
// event moves the owning order to delivered; in-transit events move it to
// shipped.
func (t *Tracker) ApplyCarrierEvent(ctx context.Context, ev CarrierEvent) (*domain.Shipment, error) {
	ctx, span := tracer.Start(ctx, "shipping.apply_carrier_event", trace.WithAttributes(
		attribute.String("shipment.tracking_number", ev.TrackingNumber),
		attribute.String("shipment.status", string(ev.Status)),
	))
	defer span.End()

	shipment, err := t.apply(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return shipment, nil
}

func (t *Tracker) apply(ctx context.Context, ev CarrierEvent) (*domain.Shipment, error) {
	if ev.TrackingNumber == "" {
		return nil, fmt.Errorf("%w: tracking number is required", domain.ErrInvalidRequest)
	}
	if !ev.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown shipment status %q", domain.ErrInvalidRequest, ev.Status)
	}
	if ev.Carrier != "" && !ev.Carrier.Valid() {
		return nil, fmt.Errorf("%w: unknown carrier %q", domain.ErrInvalidRequest, ev.Carrier)
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = t.now()
	}
	at = at.UTC()

	// The order cascade runs inside the shipment mutation so a failed
	// cascade leaves the shipment untouched and a carrier retry starts over.
	var duplicate bool
	shipment, err := t.shipments.Mutate(ctx, ev.TrackingNumber, func(s *domain.Shipment) error {
		if ev.Carrier != "" && ev.Carrier != s.Carrier {
			return fmt.Errorf("%w: tracking number belongs to %s", domain.ErrInvalidRequest, s.Carrier)
		}

		if isCancelled(s) {
			return fmt.Errorf("%w: shipment %s was cancelled", domain.ErrInvalidRequest, s.TrackingNumber)
		}

		duplicate = isRedelivery(s, ev, at)
		if !duplicate {
			s.Status = ev.Status
			s.CurrentLocation = ev.Location
			s.Timeline = append(s.Timeline, domain.TimelineEvent{
				Status:      ev.Status,
				Location:    ev.Location,
				Timestamp:   at,
				Description: ev.Description,
			})
			if ev.Status == domain.ShipmentStatusDelivered {
				s.ActualDelivery = &at
				if ev.ProofOfDelivery != nil {
					s.ProofOfDelivery = ev.ProofOfDelivery
				}
			}
			s.UpdatedAt = t.now().UTC()
		}

		return t.advanceOrder(ctx, s.OrderID, ev.Status)
	})
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrShipmentNotFound, ev.TrackingNumber)
	}

	if duplicate {
		t.logger.InfoContext(ctx, "duplicate carrier event ignored",
			"order_id", shipment.OrderID,
			"tracking_number", shipment.TrackingNumber,
			"status", ev.Status,
		)
		return shipment, nil
	}

	t.logger.InfoContext(ctx, "shipment updated",
		"order_id", shipment.OrderID,
		"tracking_number", shipment.TrackingNumber,
		"status", shipment.Status,
		"location", shipment.CurrentLocation,
	)

	t.notify(ctx, shipment, at)
	return shipment, nil
}

// Cancel withdraws the shipment of an order that was cancelled: it is marked
// as an exception and later carrier events for it are rejected. Unknown
// tracking numbers return nil, nil. Cancelling twice changes nothing.
func (t *Tracker) Cancel(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	ctx, span := tracer.Start(ctx, "shipping.cancel", trace.WithAttributes(
		attribute.String("shipment.tracking_number", trackingNumber),
	))
	defer span.End()

	shipment, err := t.shipments.Mutate(ctx, trackingNumber, func(s *domain.Shipment) error {
		if isCancelled(s) {
			return nil
		}
		now := t.now().UTC()
		s.Status = domain.ShipmentStatusException
		s.Timeline = append(s.Timeline, domain.TimelineEvent{
			Status:      domain.ShipmentStatusException,
			Location:    s.CurrentLocation,
			Timestamp:   now,
			Description: cancelledDescription,
		})
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cancel shipment %s: %w", trackingNumber, err)
	}
	if shipment != nil {
		t.logger.InfoContext(ctx, "shipment cancelled",
			"order_id", shipment.OrderID,
			"tracking_number", shipment.TrackingNumber,
		)
	}
	return shipment, nil
}

func isCancelled(s *domain.Shipment) bool {
	if s.Status != domain.ShipmentStatusException || len(s.Timeline) == 0 {
		return false
	}
	return s.Timeline[len(s.Timeline)-1].Description == cancelledDescription
}

// isRedelivery reports whether ev repeats the latest timeline entry.
func isRedelivery(s *domain.Shipment, ev CarrierEvent, at time.Time) bool {
	if len(s.Timeline) == 0 {
		return false
	}
	last := s.Timeline[len(s.Timeline)-1]
	return last.Status == ev.Status && last.Location == ev.Location && last.Timestamp.Equal(at)
}

func (t *Tracker) advanceOrder(ctx context.Context, orderID string, status domain.ShipmentStatus) error {
	var target domain.OrderState
	switch status {
	case domain.ShipmentStatusDelivered:
		target = domain.OrderStateDelivered
	case domain.ShipmentStatusInTransit, domain.ShipmentStatusOutForDelivery:
		target = domain.OrderStateShipped
	default:
		return nil
	}

	order, err := t.orders.UpdateState(ctx, orderID, target)
	if errors.Is(err, domain.ErrInvalidTransition) {
		t.logger.WarnContext(ctx, "order state not advanced",
			"order_id", orderID,
			"target_state", target,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance order %s to %s: %w", orderID, target, err)
	}
	if order == nil {
		t.logger.WarnContext(ctx, "shipment references missing order", "order_id", orderID)
	}
	return nil
}

func (t *Tracker) notify(ctx context.Context, shipment *domain.Shipment, at time.Time) {
	if t.publisher == nil {
		return
	}

	event := domain.ShipmentUpdatedEvent{
		OrderID:        shipment.OrderID,
		UserID:         shipment.UserID,
		TrackingNumber: shipment.TrackingNumber,
		Status:         shipment.Status,
		Location:       shipment.CurrentLocation,
		Timestamp:      at,
	}
	if err := t.publisher.Publish(ctx, shipment.OrderID, event); err != nil {
		t.logger.ErrorContext(ctx, "failed to publish shipment updated event",
			"error", err,
			"tracking_number", shipment.TrackingNumber,
		)
	}
}

// Get returns the shipment for an order, or nil if it has none.
func (t *Tracker) Get(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return t.shipments.GetByOrderID(ctx, orderID)
}
