package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upstream records the last request it received and answers with a fixed
// response.
type upstream struct {
	server *httptest.Server
	method string
	path   string
	query  string
	body   string
	header http.Header
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		u.method, u.path, u.query, u.body, u.header = r.Method, r.URL.Path, r.URL.RawQuery, string(data), r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) proxy(name string) *ServiceProxy {
	return NewServiceProxy(name, u.server.URL, u.server.Client())
}

func newGateway(api, auditor *ServiceProxy) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(api, auditor, discardLogger()).Register(mux, nil)
	return mux
}

func unused(name string) *ServiceProxy {
	return NewServiceProxy(name, "http://unused", http.DefaultClient)
}

func TestHandler_RoutesToAPI(t *testing.T) {
	tests := []struct {
		method string
		target string
		path   string
	}{
		{http.MethodGet, "/orders", "/orders"},
		{http.MethodPost, "/orders", "/orders"},
		{http.MethodGet, "/orders/order-1/tracking", "/orders/order-1/tracking"},
		{http.MethodGet, "/checkout/progress?token=abc", "/checkout/progress"},
		{http.MethodPost, "/webhooks/tracking", "/webhooks/tracking"},
		{http.MethodPut, "/inventory/stock/PROD-001", "/inventory/stock/PROD-001"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			api := newUpstream(t, http.StatusOK, `{}`)
			mux := newGateway(api.proxy("api"), unused("auditor"))

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, strings.NewReader(`{}`)))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if api.method != tt.method || api.path != tt.path {
				t.Errorf("expected %s %s upstream, got %s %s", tt.method, tt.path, api.method, api.path)
			}
		})
	}
}

func TestHandler_ForwardsOrderRequest(t *testing.T) {
	api := newUpstream(t, http.StatusCreated, `{"message":"order created"}`)
	mux := newGateway(api.proxy("api"), unused("auditor"))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"payment_method":"card"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Idempotency-Key", "key-1")
	req.Header.Set("Cookie", "session=secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != `{"message":"order created"}` {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if api.body != `{"payment_method":"card"}` {
		t.Errorf("unexpected upstream body: %s", api.body)
	}
	if api.header.Get("Authorization") != "Bearer token" || api.header.Get("Idempotency-Key") != "key-1" {
		t.Errorf("expected auth and idempotency headers upstream, got %v", api.header)
	}
	if api.header.Get("Cookie") != "" {
		t.Error("expected cookies not to be forwarded")
	}
	if api.header.Get("X-Forwarded-For") != "192.0.2.1" {
		t.Errorf("expected X-Forwarded-For 192.0.2.1, got %q", api.header.Get("X-Forwarded-For"))
	}
}

func TestHandler_RoutesAuditToAuditor(t *testing.T) {
	auditor := newUpstream(t, http.StatusOK, `{"total_scanned":3}`)
	mux := newGateway(unused("api"), auditor.proxy("auditor"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/audit/scan?start=2026-01-01T00:00:00Z", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if auditor.path != "/audit/scan" || auditor.query != "start=2026-01-01T00:00:00Z" {
		t.Errorf("unexpected upstream request %s?%s", auditor.path, auditor.query)
	}
}

func TestHandler_PreservesUpstreamErrors(t *testing.T) {
	api := newUpstream(t, http.StatusNotFound, `{"error":"order not found"}`)
	mux := newGateway(api.proxy("api"), unused("auditor"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestHandler_UpstreamUnavailable(t *testing.T) {
	mux := newGateway(NewServiceProxy("api", "http://localhost:99999", &http.Client{}), unused("auditor"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "service unavailable" {
		t.Errorf("expected 'service unavailable', got %s", resp["error"])
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	mux := newGateway(unused("api"), unused("auditor"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/orders/order-1", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}
