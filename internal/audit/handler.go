package audit

import (
	"net/http"
	"strconv"
	"strings"

	"trainerhub-auth/internal/httpjson"
	"trainerhub-auth/internal/observability"
)

type Handler struct {
	lister Lister
	logger *observability.Logger
}

func NewHandler(lister Lister, logger *observability.Logger) *Handler {
	return &Handler{lister: lister, logger: logger}
}

// List serves GET /api/admin/audit. Route protection is applied by the caller.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := Filter{
		UserID: strings.TrimSpace(query.Get("userId")),
		Action: strings.TrimSpace(query.Get("action")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpjson.FieldErrors(w, "invalid query", map[string]string{"limit": "must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.lister.List(r.Context(), filter)
	if err != nil {
		observability.ReportError(r.Context(), h.logger, "audit_list_failed", err, nil)
		httpjson.Error(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	httpjson.OK(w, http.StatusOK, map[string]any{"entries": entries})
}
