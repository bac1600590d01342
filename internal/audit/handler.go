package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

type scanner interface {
	Scan(ctx context.Context, start, end time.Time) (*ScanReport, error)
}

type Handler struct {
	scanner       scanner
	defaultWindow time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

func NewHandler(s scanner, defaultWindow time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		scanner:       s,
		defaultWindow: defaultWindow,
		now:           time.Now,
		logger:        logger,
	}
}

// HandleScan runs an on-demand scan. start and end are RFC 3339; when
// omitted the scan covers the trailing default window.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	end := h.now()
	start := end.Add(-h.defaultWindow)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		end = t
	}

	report, err := h.scanner.Scan(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, "end must not be before start")
			return
		}
		h.logger.Error("failed to scan audit log", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("audit scan served", "total_scanned", report.TotalScanned, "tampered_count", report.TamperedCount)
	h.writeJSON(w, http.StatusOK, report)
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
