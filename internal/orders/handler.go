package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/auth"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type ShipmentReader interface {
	Get(ctx context.Context, orderID string) (*domain.Shipment, error)
}

type Handler struct {
	orchestrator *Orchestrator
	orders       Store
	shipments    ShipmentReader
	logger       *slog.Logger
}

func NewHandler(orchestrator *Orchestrator, orders Store, shipments ShipmentReader, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		orders:       orders,
		shipments:    shipments,
		logger:       logger,
	}
}

type envelope struct {
	Message string        `json:"message"`
	Data    *domain.Order `json:"data"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)

	result, err := h.orchestrator.Submit(r.Context(), req, userID)
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	if result.Replayed {
		h.writeJSON(w, http.StatusOK, envelope{Message: "order already processed", Data: result.Order})
		return
	}
	h.writeJSON(w, http.StatusCreated, envelope{Message: "order created", Data: result.Order})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrProductUnavailable):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrPaymentRejected):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "failed to submit order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type statusResponse struct {
	OrderID   string            `json:"order_id"`
	State     domain.OrderState `json:"state"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{OrderID: order.ID, State: order.State, UpdatedAt: order.UpdatedAt})
}

type trackingResponse struct {
	TrackingNumber    string                 `json:"tracking_number"`
	Carrier           domain.Carrier         `json:"carrier"`
	Status            domain.ShipmentStatus  `json:"status"`
	CurrentLocation   string                 `json:"current_location"`
	Timeline          []domain.TimelineEvent `json:"timeline"`
	EstimatedDelivery *time.Time             `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time             `json:"actual_delivery,omitempty"`
}

func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	shipment, err := h.shipments.Get(r.Context(), order.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get shipment", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if shipment == nil {
		h.writeError(w, http.StatusNotFound, "tracking information not available")
		return
	}

	h.writeJSON(w, http.StatusOK, trackingResponse{
		TrackingNumber:    shipment.TrackingNumber,
		Carrier:           shipment.Carrier,
		Status:            shipment.Status,
		CurrentLocation:   shipment.CurrentLocation,
		Timeline:          shipment.Timeline,
		EstimatedDelivery: shipment.EstimatedDelivery,
		ActualDelivery:    shipment.ActualDelivery,
	})
}

// ownedOrder loads the order named in the path. Orders belonging to someone
// else are reported as not found.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return nil, false
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if order == nil || order.UserID != userID {
		h.writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}
	return order, true
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
