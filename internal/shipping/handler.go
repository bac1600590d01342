package shipping

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const WebhookSecretHeader = "X-Webhook-Secret"

type Handler struct {
	tracker *Tracker
	secret  []byte
	logger  *slog.Logger
}

func NewHandler(tracker *Tracker, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		secret:  []byte(webhookSecret),
		logger:  logger,
	}
}

func (h *Handler) HandleCarrierWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.WarnContext(r.Context(), "rejected carrier webhook", "remote_addr", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var ev CarrierEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	shipment, err := h.tracker.ApplyCarrierEvent(r.Context(), ev)
	switch {
	case errors.Is(err, domain.ErrShipmentNotFound):
		h.writeError(w, http.StatusNotFound, "shipment not found")
		return
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "failed to apply carrier event", "error", err, "tracking_number", ev.TrackingNumber)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, shipment)
}

// An unset secret rejects every request.
func (h *Handler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}
	got := []byte(r.Header.Get(WebhookSecretHeader))
	return subtle.ConstantTimeCompare(got, h.secret) == 1
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
