package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

type emailSink struct {
	mu       sync.Mutex
	messages []emailMessage
	status   int
}

func (s *emailSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	var msg emailMessage
	_ = json.NewDecoder(r.Body).Decode(&msg)
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newHandler(t *testing.T, sink *emailSink) *NotificationHandler {
	t.Helper()
	server := httptest.NewServer(sink)
	t.Cleanup(server.Close)
	return NewNotificationHandler(server.URL+"/", server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNotificationHandler_HandleOrderConfirmed(t *testing.T) {
	sink := &emailSink{}
	h := newHandler(t, sink)

	payload, _ := json.Marshal(domain.OrderConfirmedEvent{
		OrderID: "order-1",
		UserID:  "user-1",
		Items: []domain.LineItem{
			{ProductID: "PROD-001", Title: "Premium Laptop Sleeve", Quantity: 2, Price: decimal.RequireFromString("79.99")},
		},
		Total:    decimal.RequireFromString("159.98"),
		Tracking: "TRK-ABCDEF123456",
	})

	if err := h.HandleOrderConfirmed(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.messages) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sink.messages))
	}
	msg := sink.messages[0]
	if msg.To != "user-1@example.com" || msg.Subject != "Order Confirmation: order-1" {
		t.Errorf("unexpected email header: %+v", msg)
	}
	for _, want := range []string{"2 x Premium Laptop Sleeve @ 79.99", "Total: 159.98", "TRK-ABCDEF123456"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("expected body to contain %q, got %s", want, msg.Body)
		}
	}
}

func TestNotificationHandler_HandleShipmentUpdated(t *testing.T) {
	tests := []struct {
		status    domain.ShipmentStatus
		wantEmail bool
	}{
		{domain.ShipmentStatusPending, false},
		{domain.ShipmentStatusInTransit, true},
		{domain.ShipmentStatusOutForDelivery, true},
		{domain.ShipmentStatusDelivered, true},
		{domain.ShipmentStatusException, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			sink := &emailSink{}
			h := newHandler(t, sink)

			payload, _ := json.Marshal(domain.ShipmentUpdatedEvent{
				OrderID:        "order-1",
				UserID:         "user-1",
				TrackingNumber: "TRK-ABCDEF123456",
				Status:         tt.status,
				Location:       "Memphis, TN",
			})
			if err := h.HandleShipmentUpdated(context.Background(), payload); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(sink.messages) == 1; got != tt.wantEmail {
				t.Errorf("expected email %v, got %d messages", tt.wantEmail, len(sink.messages))
			}
		})
	}
}

func TestNotificationHandler_Errors(t *testing.T) {
	t.Run("malformed payload", func(t *testing.T) {
		h := newHandler(t, &emailSink{})
		if err := h.HandleOrderConfirmed(context.Background(), []byte("{")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("email service failure", func(t *testing.T) {
		h := newHandler(t, &emailSink{status: http.StatusServiceUnavailable})
		payload, _ := json.Marshal(domain.OrderConfirmedEvent{OrderID: "order-1", UserID: "user-1"})
		if err := h.HandleOrderConfirmed(context.Background(), payload); err == nil {
			t.Error("expected error")
		}
	})
}
