package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/greanly/internal/audit"
	"github.com/wolfman30/greanly/pkg/logging"
)

// AuditLister reads stored chat outcomes.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

type AuditHandler struct {
	lister AuditLister
	logger *logging.Logger
}

func NewAuditHandler(lister AuditLister, logger *logging.Logger) *AuditHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuditHandler{lister: lister, logger: logger}
}

// List returns recent chat outcomes.
// GET /admin/audit?outcome=denied&since=2026-03-01T00:00:00Z&limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		jsonError(w, "audit not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Outcome: q.Get("outcome")}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.lister.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list chat outcomes", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
