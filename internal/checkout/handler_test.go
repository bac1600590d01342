package checkout

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/auth"
	"github.com/joao-fontenele/orderflow-ledger/internal/kvstore"
)

func newTestMux() *http.ServeMux {
	h := NewHandler(NewService(kvstore.NewMemoryStore(), time.Minute, discardLogger()), discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout/progress", h.HandleSave)
	mux.HandleFunc("GET /checkout/progress", h.HandleResume)
	return mux
}

func asUser(r *http.Request, userID string) *http.Request {
	if userID == "" {
		return r
	}
	return r.WithContext(auth.WithUser(r.Context(), userID))
}

func TestHandler_SaveAndResume(t *testing.T) {
	mux := newTestMux()

	body := `{"step":"shipping","data":{"full_name":"Checkout User","address_line1":"123 Main St"}}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/checkout/progress", bytes.NewBufferString(body)), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved Progress
	if err := json.NewDecoder(rec.Body).Decode(&saved); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if saved.Token == "" {
		t.Fatal("expected resume_token in response")
	}

	tests := []struct {
		name       string
		userID     string
		query      string
		wantStatus int
	}{
		{name: "owner resumes", userID: "user-1", query: "?token=" + saved.Token, wantStatus: http.StatusOK},
		{name: "other user", userID: "user-2", query: "?token=" + saved.Token, wantStatus: http.StatusNotFound},
		{name: "unknown token", userID: "user-1", query: "?token=nope", wantStatus: http.StatusNotFound},
		{name: "missing token", userID: "user-1", query: "", wantStatus: http.StatusBadRequest},
		{name: "unauthenticated", query: "?token=" + saved.Token, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodGet, "/checkout/progress"+tt.query, nil), tt.userID)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestHandler_SaveRejectsBadInput(t *testing.T) {
	mux := newTestMux()

	for _, body := range []string{`not json`, `{"step":"teleport"}`} {
		req := asUser(httptest.NewRequest(http.MethodPost, "/checkout/progress", bytes.NewBufferString(body)), "user-1")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status 400, got %d", body, rec.Code)
		}
	}
}
