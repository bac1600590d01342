package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// passthroughHeaders are copied from upstream responses back to the client.
var passthroughHeaders = []string{"Content-Type", "WWW-Authenticate", "Retry-After"}

type Handler struct {
	apiProxy     *ServiceProxy
	auditorProxy *ServiceProxy
	logger       *slog.Logger
}

func NewHandler(apiProxy, auditorProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		apiProxy:     apiProxy,
		auditorProxy: auditorProxy,
		logger:       logger,
	}
}

// HandleAPI forwards orders, checkout, webhook and inventory traffic.
func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.apiProxy, r.URL.Path)
}

// HandleAudit forwards /audit/... to the auditor.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.auditorProxy, r.URL.Path)
}

// Register mounts every public route on mux. wrap is applied to each
// handler, typically to tag spans with the route.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}

	api := wrap(http.HandlerFunc(h.HandleAPI))
	for _, pattern := range []string{
		"GET /orders",
		"POST /orders",
		"GET /orders/{id}",
		"GET /orders/{id}/status",
		"GET /orders/{id}/tracking",
		"POST /checkout/progress",
		"GET /checkout/progress",
		"POST /webhooks/tracking",
		"GET /inventory/stock",
		"GET /inventory/stock/{productId}",
		"PUT /inventory/stock/{productId}",
	} {
		mux.Handle(pattern, api)
	}

	mux.Handle("POST /audit/scan", wrap(http.HandlerFunc(h.HandleAudit)))
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to forward request", "error", err, "service", proxy.Name(), "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range passthroughHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.InfoContext(r.Context(), "request proxied",
		"service", proxy.Name(),
		"method", r.Method,
		"path", path,
		"status", resp.StatusCode,
	)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
