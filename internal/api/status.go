package api

import (
	"context"
	"net/http"

	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/worker"
)

// StatusSource exposes the live worker state.
type StatusSource interface {
	Snapshot() worker.Snapshot
}

// CountsSource reports stored record totals.
type CountsSource interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Worker worker.Snapshot `json:"worker"`
	Counts store.Counts    `json:"counts"`
}

// StatusHandler serves the pipeline status endpoint.
type StatusHandler struct {
	status StatusSource
	counts CountsSource
	logger log.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(status StatusSource, counts CountsSource, logger log.Logger) *StatusHandler {
	return &StatusHandler{status: status, counts: counts, logger: logger}
}

// RegisterRoutes registers status routes on the given mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.getStatus)
}

func (h *StatusHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Worker: h.status.Snapshot()}

	counts, err := h.counts.Counts(r.Context())
	if err != nil {
		h.logger.Error("counting stored records", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read stored counts")
		return
	}
	resp.Counts = counts

	writeJSON(w, http.StatusOK, resp)
}
