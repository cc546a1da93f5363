package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CaseStatusRequest is the request body for POST /v1/cases/{id}/status.
type CaseStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
	Notes  string            `json:"notes,omitempty"`
}

// ListCases handles GET /v1/cases?status=&subject=&limit=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CaseFilter{
		Status:    domain.CaseStatus(q.Get("status")),
		SubjectID: q.Get("subject"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown case status",
		})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}

	list, err := h.store.ListDetectionCases(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": list,
		"count": len(list),
	})
}

// GetCase handles GET /v1/cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetDetectionCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCaseStatus handles POST /v1/cases/{id}/status.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	reviewer := r.Header.Get(ReviewerIDHeader)
	if reviewer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ReviewerIDHeader + " header is required",
		})
		return
	}

	var req CaseStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.workflow.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, reviewer, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
