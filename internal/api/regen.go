package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/worker"
)

// Regenerator starts regeneration jobs.
type Regenerator interface {
	StartRegeneration(ctx context.Context, req worker.RegenRequest) (string, error)
}

// RegenRequest is the POST /api/regenerate payload.
type RegenRequest struct {
	Type  string     `json:"type,omitempty"` // stories | comments | all (default all)
	Limit int        `json:"limit,omitempty"`
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// RegenAccepted is the 202 response for an accepted regeneration job.
type RegenAccepted struct {
	JobID string `json:"job_id"`
}

// RegenStatus is the GET /api/regenerate payload.
type RegenStatus struct {
	Running bool                `json:"running"`
	JobID   string              `json:"job_id,omitempty"`
	Last    *worker.RegenResult `json:"last,omitempty"`
}

// RegenHandler serves the regeneration endpoints.
type RegenHandler struct {
	regen  Regenerator
	status StatusSource
	logger log.Logger
}

// NewRegenHandler creates a new regeneration handler.
func NewRegenHandler(regen Regenerator, status StatusSource, logger log.Logger) *RegenHandler {
	return &RegenHandler{regen: regen, status: status, logger: logger}
}

// RegisterRoutes registers regeneration routes on the given mux.
func (h *RegenHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/regenerate", h.startRegen)
	mux.HandleFunc("GET /api/regenerate", h.getRegen)
}

// startRegen accepts a regeneration job. At most one runs at a time; a
// second request while one is in flight gets 409.
func (h *RegenHandler) startRegen(w http.ResponseWriter, r *http.Request) {
	var req RegenRequest
	// An empty body means "regenerate everything".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	switch req.Type {
	case "", "all", "stories", "comments":
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "type must be one of stories, comments, all")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be non-negative")
		return
	}

	jobID, err := h.regen.StartRegeneration(r.Context(), worker.RegenRequest{
		Type:  req.Type,
		Limit: req.Limit,
		Since: req.Since,
		Until: req.Until,
	})
	if err != nil {
		if errors.Is(err, worker.ErrRegenBusy) {
			writeError(w, http.StatusConflict, "regen_busy", "a regeneration job is already running")
			return
		}
		h.logger.Error("starting regeneration", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start regeneration")
		return
	}

	writeJSON(w, http.StatusAccepted, RegenAccepted{JobID: jobID})
}

func (h *RegenHandler) getRegen(w http.ResponseWriter, _ *http.Request) {
	snap := h.status.Snapshot()
	writeJSON(w, http.StatusOK, RegenStatus{
		Running: snap.RegenRunning,
		JobID:   snap.RegenJobID,
		Last:    snap.LastRegen,
	})
}
