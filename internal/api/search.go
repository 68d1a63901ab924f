package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/search"
)

// maxSearchLimit caps the per-request result count.
const maxSearchLimit = 100

// Searcher performs semantic search over the stored collections.
type Searcher interface {
	SearchStories(ctx context.Context, query string, k int) ([]search.StoryHit, error)
	SearchComments(ctx context.Context, query string, k int) ([]search.CommentHit, error)
}

// SearchResponse is the /api/search payload. Exactly one of Stories or
// Comments is set, matching the requested type.
type SearchResponse struct {
	Query    string              `json:"query"`
	Type     string              `json:"type"`
	Stories  []search.StoryHit   `json:"stories,omitempty"`
	Comments []search.CommentHit `json:"comments,omitempty"`
}

// SearchHandler serves the semantic search endpoint.
type SearchHandler struct {
	searcher Searcher
	logger   log.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searcher Searcher, logger log.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", h.getSearch)
}

// getSearch handles GET /api/search?q=...&type=stories|comments&limit=N.
func (h *SearchHandler) getSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "q parameter is required")
		return
	}

	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "stories"
	}

	limit := search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	resp := SearchResponse{Query: query, Type: kind}
	switch kind {
	case "stories":
		hits, err := h.searcher.SearchStories(r.Context(), query, limit)
		if err != nil {
			h.logger.Error("story search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
			return
		}
		resp.Stories = hits
	case "comments":
		hits, err := h.searcher.SearchComments(r.Context(), query, limit)
		if err != nil {
			h.logger.Error("comment search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
			return
		}
		resp.Comments = hits
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "type must be stories or comments")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
