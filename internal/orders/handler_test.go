package orders

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/auth"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

type handlerFixture struct {
	*fixture
	mux      *http.ServeMux
	verifier *auth.Verifier
}

func newHandlerFixture() *handlerFixture {
	f := newFixture()
	verifier := auth.NewVerifier("test-secret")
	h := NewHandler(f.orchestrator(nil, nil), f.orders, f.tracker, discardLogger())
	require := auth.Require(verifier, discardLogger())

	mux := http.NewServeMux()
	mux.Handle("POST /orders", require(http.HandlerFunc(h.HandleCreate)))
	mux.Handle("GET /orders", require(http.HandlerFunc(h.HandleList)))
	mux.Handle("GET /orders/{id}", require(http.HandlerFunc(h.HandleGet)))
	mux.Handle("GET /orders/{id}/status", require(http.HandlerFunc(h.HandleStatus)))
	mux.Handle("GET /orders/{id}/tracking", require(http.HandlerFunc(h.HandleTracking)))

	return &handlerFixture{fixture: f, mux: mux, verifier: verifier}
}

func (f *handlerFixture) do(t *testing.T, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := f.verifier.Issue(userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

type createResponse struct {
	Message string       `json:"message"`
	Data    domain.Order `json:"data"`
}

func validBody() map[string]any {
	return map[string]any{
		"items":            []map[string]any{{"product_id": "PROD-001", "quantity": 2}},
		"shipping_address": validAddress(),
		"payment_method":   "visa_4242",
	}
}

func (f *handlerFixture) create(t *testing.T, userID string) domain.Order {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/orders", userID, validBody(), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Data
}

func TestHandler_HandleCreate(t *testing.T) {
	t.Run("creates order", func(t *testing.T) {
		f := newHandlerFixture()
		order := f.create(t, "user-1")

		if order.UserID != "user-1" {
			t.Errorf("expected user-1, got %s", order.UserID)
		}
		if order.Total.String() != "159.98" {
			t.Errorf("expected total 159.98, got %s", order.Total)
		}
		if order.State != domain.OrderStateProcessing {
			t.Errorf("expected processing, got %s", order.State)
		}
	})

	t.Run("replays idempotent request", func(t *testing.T) {
		f := newHandlerFixture()
		headers := map[string]string{IdempotencyKeyHeader: "key-abc"}

		first := f.do(t, http.MethodPost, "/orders", "user-1", validBody(), headers)
		if first.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", first.Code)
		}
		second := f.do(t, http.MethodPost, "/orders", "user-1", validBody(), headers)
		if second.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", second.Code)
		}

		var a, b createResponse
		_ = json.NewDecoder(first.Body).Decode(&a)
		_ = json.NewDecoder(second.Body).Decode(&b)
		if a.Data.ID != b.Data.ID {
			t.Errorf("expected same order id, got %s and %s", a.Data.ID, b.Data.ID)
		}
		if b.Message != "order already processed" {
			t.Errorf("unexpected message %q", b.Message)
		}
	})

	tests := []struct {
		name       string
		userID     string
		body       any
		wantStatus int
	}{
		{name: "unauthenticated", body: validBody(), wantStatus: http.StatusUnauthorized},
		{name: "malformed body", userID: "user-1", body: "{not json", wantStatus: http.StatusBadRequest},
		{
			name:   "insufficient stock",
			userID: "user-1",
			body: map[string]any{
				"items":            []map[string]any{{"product_id": "PROD-001", "quantity": 50}},
				"shipping_address": validAddress(),
				"payment_method":   "visa_4242",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "unknown product",
			userID: "user-1",
			body: map[string]any{
				"items":            []map[string]any{{"product_id": "PROD-999", "quantity": 1}},
				"shipping_address": validAddress(),
				"payment_method":   "visa_4242",
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "declined payment",
			userID: "user-1",
			body: map[string]any{
				"items":            []map[string]any{{"product_id": "PROD-001", "quantity": 1}},
				"shipping_address": validAddress(),
				"payment_method":   "declined_card",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "missing address",
			userID: "user-1",
			body: map[string]any{
				"items":          []map[string]any{{"product_id": "PROD-001", "quantity": 1}},
				"payment_method": "visa_4242",
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			rec := f.do(t, http.MethodPost, "/orders", tt.userID, tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Reads(t *testing.T) {
	f := newHandlerFixture()
	order := f.create(t, "user-1")

	t.Run("list returns own orders", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders", "user-1", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var list []domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(list) != 1 || list[0].ID != order.ID {
			t.Errorf("unexpected list: %+v", list)
		}

		rec = f.do(t, http.MethodGet, "/orders", "user-2", nil, nil)
		if rec.Body.String() != "[]\n" {
			t.Errorf("expected empty list for another user, got %s", rec.Body.String())
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders/"+order.ID, "user-1", nil, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("another user's order is not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders/"+order.ID, "user-2", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("status", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders/"+order.ID+"/status", "user-1", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var resp statusResponse
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if resp.OrderID != order.ID || resp.State != domain.OrderStateProcessing {
			t.Errorf("unexpected status response: %+v", resp)
		}
	})

	t.Run("tracking", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders/"+order.ID+"/tracking", "user-1", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var resp trackingResponse
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if resp.TrackingNumber == "" || resp.Status != domain.ShipmentStatusPending || len(resp.Timeline) != 1 {
			t.Errorf("unexpected tracking response: %+v", resp)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders/nope/status", "user-1", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}
