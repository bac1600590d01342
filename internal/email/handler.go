// Package email is a mock mail sink. It accepts messages, keeps the most
// recent ones in memory and never delivers anything.
package email

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
)

const outboxSize = 100

type Message struct {
	ID      string    `json:"id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	logger   *slog.Logger
	maxDelay time.Duration

	mu     sync.Mutex
	outbox []Message
}

// NewHandler returns a Handler that waits a random time up to maxDelay per
// message to mimic a real provider.
func NewHandler(maxDelay time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		maxDelay: maxDelay,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if req.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	if h.maxDelay > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(h.maxDelay))))
	}

	msg := Message{
		ID:      uuid.NewString(),
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		SentAt:  time.Now().UTC(),
	}
	h.store(msg)

	h.logger.InfoContext(r.Context(), "email sent", "id", msg.ID, "to", msg.To, "subject", msg.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{ID: msg.ID, Status: "sent"})
}

// HandleList returns the retained messages, newest first, optionally
// filtered by the to query parameter.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")

	h.mu.Lock()
	out := make([]Message, 0, len(h.outbox))
	for i := len(h.outbox) - 1; i >= 0; i-- {
		if to == "" || h.outbox[i].To == to {
			out = append(out, h.outbox[i])
		}
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) store(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outbox = append(h.outbox, msg)
	if len(h.outbox) > outboxSize {
		h.outbox = h.outbox[len(h.outbox)-outboxSize:]
	}
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
