package compensation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-ledger/internal/alerting"
	"github.com/joao-fontenele/orderflow-ledger/internal/audit"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
	"github.com/joao-fontenele/orderflow-ledger/internal/inventory"
	"github.com/joao-fontenele/orderflow-ledger/internal/memstore"
	"github.com/joao-fontenele/orderflow-ledger/internal/payment"
	"github.com/joao-fontenele/orderflow-ledger/internal/shipping"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

type alertRecorder struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (r *alertRecorder) Send(_ context.Context, alert alerting.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *alertRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Type
	}
	return out
}

type brokenReleaser struct{ calls int }

func (b *brokenReleaser) Release(context.Context, []domain.LineItem) error {
	b.calls++
	return errors.New("inventory store unreachable")
}

type fixture struct {
	products  *memstore.Products
	orders    *memstore.Orders
	shipments *memstore.Shipments
	tracker   *shipping.Tracker
	gateway   *payment.MockGateway
	alerts    *alertRecorder
	auditLog  *memstore.AuditLog
	ledger    *audit.Ledger
}

func newFixture() *fixture {
	products := memstore.NewProducts(
		domain.Product{ID: "PROD-001", Title: "Premium Laptop Sleeve", Price: decimal.RequireFromString("79.99"), Stock: 10, ReservedCount: 2, IsActive: true},
	)
	auditLog := memstore.NewAuditLog()
	orders := memstore.NewOrders()
	shipments := memstore.NewShipments()
	return &fixture{
		products:  products,
		orders:    orders,
		shipments: shipments,
		tracker:   shipping.NewTracker(shipments, orders, nil, discardLogger()),
		gateway:   payment.NewMockGateway(nil),
		alerts:    &alertRecorder{},
		auditLog:  auditLog,
		ledger:    audit.NewLedger(auditLog, discardLogger()),
	}
}

func (f *fixture) coordinator(releaser Releaser) *Coordinator {
	if releaser == nil {
		releaser = inventory.NewReservationManager(f.products, discardLogger())
	}
	return NewCoordinator(releaser, f.gateway, f.tracker, f.orders, f.alerts, f.ledger,
		RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Sleep: noSleep},
		discardLogger(),
	)
}

var reserved = []domain.LineItem{{ProductID: "PROD-001", Title: "Premium Laptop Sleeve", Quantity: 2, Price: decimal.RequireFromString("79.99")}}

func TestStep_AtOrAfter(t *testing.T) {
	if !StepPersistOrder.AtOrAfter(StepAuthorizePayment) {
		t.Error("persist_order should come after authorize_payment")
	}
	if StepReserveInventory.AtOrAfter(StepAuthorizePayment) {
		t.Error("reserve_inventory should come before authorize_payment")
	}
	if !StepAuthorizePayment.AtOrAfter(StepAuthorizePayment) {
		t.Error("a step is at or after itself")
	}
}

func TestCoordinator_Compensate(t *testing.T) {
	ctx := context.Background()

	t.Run("releases, refunds and cancels", func(t *testing.T) {
		f := newFixture()
		auth, err := f.gateway.Authorize(ctx, decimal.RequireFromString("159.98"), "card")
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if err := f.orders.Create(ctx, &domain.Order{ID: "order-1", State: domain.OrderStatePending}); err != nil {
			t.Fatalf("create order: %v", err)
		}

		outcome := f.coordinator(nil).Compensate(ctx, Failure{
			OrderID:       "order-1",
			Step:          StepCreateShipment,
			Cause:         errors.New("carrier down"),
			Reserved:      reserved,
			Authorization: auth,
		})

		if !outcome.Released || !outcome.Refunded || !outcome.Cancelled {
			t.Errorf("expected every action to succeed, got %+v", outcome)
		}
		if len(outcome.Failed) != 0 {
			t.Errorf("expected no failed actions, got %v", outcome.Failed)
		}

		p, _ := f.products.Get(ctx, "PROD-001")
		if p.ReservedCount != 0 {
			t.Errorf("expected reservation released, got %d reserved", p.ReservedCount)
		}
		if !f.gateway.Refunded(auth.ID) {
			t.Error("expected authorization refunded")
		}
		o, _ := f.orders.GetByID(ctx, "order-1")
		if o.State != domain.OrderStateCancelled {
			t.Errorf("expected cancelled order, got %s", o.State)
		}

		types := f.alerts.types()
		if len(types) != 1 || types[0] != "ORDER_FAILURE" {
			t.Errorf("expected a single ORDER_FAILURE alert, got %v", types)
		}
	})

	t.Run("does not refund before payment was authorized", func(t *testing.T) {
		f := newFixture()
		auth := &payment.Authorization{ID: "txn_stale"}

		outcome := f.coordinator(nil).Compensate(ctx, Failure{
			OrderID:       "order-2",
			Step:          StepReserveInventory,
			Cause:         domain.ErrInsufficientStock,
			Reserved:      reserved,
			Authorization: auth,
		})

		if outcome.Refunded {
			t.Error("expected no refund attempt")
		}
		if len(outcome.Failed) != 0 {
			t.Errorf("expected no failed actions, got %v", outcome.Failed)
		}
	})

	t.Run("missing order is not a failure", func(t *testing.T) {
		f := newFixture()

		outcome := f.coordinator(nil).Compensate(ctx, Failure{
			OrderID: "never-persisted",
			Step:    StepValidateInventory,
			Cause:   domain.ErrProductUnavailable,
		})

		if outcome.Cancelled {
			t.Error("expected nothing to cancel")
		}
		if len(outcome.Failed) != 0 {
			t.Errorf("expected no failed actions, got %v", outcome.Failed)
		}
	})

	t.Run("already delivered order is left alone", func(t *testing.T) {
		f := newFixture()
		if err := f.orders.Create(ctx, &domain.Order{ID: "order-3", State: domain.OrderStateDelivered}); err != nil {
			t.Fatalf("create order: %v", err)
		}

		outcome := f.coordinator(nil).Compensate(ctx, Failure{OrderID: "order-3", Step: StepCreateShipment})

		if len(outcome.Failed) != 0 {
			t.Errorf("expected terminal order to be tolerated, got %v", outcome.Failed)
		}
		o, _ := f.orders.GetByID(ctx, "order-3")
		if o.State != domain.OrderStateDelivered {
			t.Errorf("expected state unchanged, got %s", o.State)
		}
	})

	t.Run("failed action is retried, reported and does not stop the rest", func(t *testing.T) {
		f := newFixture()
		auth, _ := f.gateway.Authorize(ctx, decimal.RequireFromString("10"), "card")
		if err := f.orders.Create(ctx, &domain.Order{ID: "order-4", State: domain.OrderStateProcessing}); err != nil {
			t.Fatalf("create order: %v", err)
		}
		broken := &brokenReleaser{}

		outcome := f.coordinator(broken).Compensate(ctx, Failure{
			OrderID:       "order-4",
			Actor:         "user-1",
			Step:          StepPersistOrder,
			Cause:         errors.New("db down"),
			Reserved:      reserved,
			Authorization: auth,
		})

		if broken.calls != 3 {
			t.Errorf("expected 3 release attempts, got %d", broken.calls)
		}
		if outcome.Released {
			t.Error("expected release to be reported as failed")
		}
		if len(outcome.Failed) != 1 || outcome.Failed[0] != "release_inventory" {
			t.Errorf("expected release_inventory failure, got %v", outcome.Failed)
		}
		if !outcome.Refunded || !outcome.Cancelled {
			t.Errorf("expected refund and cancel to still run, got %+v", outcome)
		}

		types := f.alerts.types()
		if len(types) != 2 || types[0] != "COMPENSATION_FAILED" || types[1] != "ORDER_FAILURE" {
			t.Errorf("unexpected alerts: %v", types)
		}

		entries := f.auditLog.All()
		if len(entries) != 1 {
			t.Fatalf("expected 1 audit entry, got %d", len(entries))
		}
		if entries[0].Action != "COMPENSATION_FAILED" {
			t.Errorf("expected COMPENSATION_FAILED, got %s", entries[0].Action)
		}
		if entries[0].Actor == nil || *entries[0].Actor != "user-1" {
			t.Errorf("expected actor user-1, got %v", entries[0].Actor)
		}
		if !audit.Verify(&entries[0]) {
			t.Error("expected compensation audit entry to verify")
		}
	})

	t.Run("ignores a cancelled request context", func(t *testing.T) {
		f := newFixture()
		if err := f.orders.Create(ctx, &domain.Order{ID: "order-5", State: domain.OrderStatePending}); err != nil {
			t.Fatalf("create order: %v", err)
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		outcome := f.coordinator(nil).Compensate(cctx, Failure{OrderID: "order-5", Step: StepPersistOrder, Reserved: reserved})

		if !outcome.Released || !outcome.Cancelled {
			t.Errorf("expected compensation to complete, got %+v", outcome)
		}
	})

	t.Run("cancels the shipment stub", func(t *testing.T) {
		f := newFixture()
		order := &domain.Order{ID: "order-9", UserID: "user-1", State: domain.OrderStateProcessing}
		_ = f.orders.Create(ctx, order)
		stub, err := f.tracker.CreateStub(ctx, order)
		if err != nil {
			t.Fatalf("create stub: %v", err)
		}

		outcome := f.coordinator(nil).Compensate(ctx, Failure{
			OrderID:  "order-9",
			Step:     StepCreateShipment,
			Cause:    errors.New("attach shipment: write timeout"),
			Shipment: stub,
		})
		if !outcome.ShipmentCancelled || !outcome.Cancelled {
			t.Errorf("unexpected outcome: %+v", outcome)
		}

		s, _ := f.shipments.GetByTrackingNumber(ctx, stub.TrackingNumber)
		if s.Status != domain.ShipmentStatusException {
			t.Errorf("expected shipment exception, got %s", s.Status)
		}
		if _, err := f.tracker.ApplyCarrierEvent(ctx, shipping.CarrierEvent{
			TrackingNumber: stub.TrackingNumber,
			Status:         domain.ShipmentStatusDelivered,
			Location:       "Customer Address",
		}); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("expected carrier events to be rejected, got %v", err)
		}
	})

	t.Run("superseded failure undoes side effects without alerting", func(t *testing.T) {
		f := newFixture()
		auth, _ := f.gateway.Authorize(ctx, decimal.RequireFromString("159.98"), "card")

		outcome := f.coordinator(nil).Compensate(ctx, Failure{
			OrderID:       "order-lost",
			Step:          StepPersistOrder,
			Cause:         domain.ErrDuplicateIdempotencyKey,
			Reserved:      reserved,
			Authorization: auth,
			Superseded:    true,
		})
		if !outcome.Released || !outcome.Refunded {
			t.Errorf("unexpected outcome: %+v", outcome)
		}
		if got := f.alerts.types(); len(got) != 0 {
			t.Errorf("expected no alerts, got %v", got)
		}
	})
}
