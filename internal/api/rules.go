package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleRequest is the request body for creating or replacing a rule.
// Active defaults to true.
type RuleRequest struct {
	ID                   string                 `json:"id,omitempty"`
	Name                 string                 `json:"name"`
	Description          string                 `json:"description,omitempty"`
	RuleType             domain.RuleType        `json:"ruleType"`
	Method               domain.DetectionMethod `json:"method"`
	Parameters           map[string]any         `json:"parameters"`
	Weight               float64                `json:"weight"`
	Severity             domain.Severity        `json:"severity"`
	AutoFlag             bool                   `json:"autoFlag"`
	AutoBlock            bool                   `json:"autoBlock"`
	RequiresManualReview bool                   `json:"requiresManualReview"`
	Active               *bool                  `json:"active,omitempty"`
}

func (req *RuleRequest) apply(rule *domain.Rule) {
	rule.Name = req.Name
	rule.Description = req.Description
	rule.RuleType = req.RuleType
	rule.Method = req.Method
	rule.Parameters = req.Parameters
	rule.Weight = req.Weight
	rule.Severity = req.Severity
	rule.AutoFlag = req.AutoFlag
	rule.AutoBlock = req.AutoBlock
	rule.RequiresManualReview = req.RequiresManualReview
	rule.Active = req.Active == nil || *req.Active
}

// ListRules handles GET /v1/rules. Disabled rules are included unless
// view=loaded asks for the rules the catalog is evaluating.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	if r.URL.Query().Get("view") == "loaded" {
		list := snap.Rules()
		writeJSON(w, http.StatusOK, map[string]any{
			"rules":  list,
			"count":  len(list),
			"loaded": snap.Len(),
		})
		return
	}

	list, err := h.store.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  list,
		"count":  len(list),
		"loaded": snap.Len(),
	})
}

// GetRule handles GET /v1/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /v1/rules. The rule is compiled before it is
// stored, so a malformed rule never reaches the catalog.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rule := &domain.Rule{ID: req.ID}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	} else if _, err := h.store.GetRule(ctx, rule.ID); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("rule %s already exists", rule.ID),
		})
		return
	}
	req.apply(rule)
	rule.Version = 1

	if !h.saveRule(w, r, rule) {
		return
	}
	slog.Info("rule created", "rule_id", rule.ID, "rule_type", rule.RuleType)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /v1/rules/{id}. Every edit bumps the version so
// cases keep the definition they were raised under.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	existing, err := h.store.GetRule(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID != "" && req.ID != existing.ID {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id cannot be changed",
		})
		return
	}

	rule := *existing
	req.apply(&rule)
	rule.Version = existing.Version + 1
	rule.UpdatedAt = h.now()

	if !h.saveRule(w, r, &rule) {
		return
	}
	slog.Info("rule updated", "rule_id", rule.ID, "version", rule.Version)
	writeJSON(w, http.StatusOK, &rule)
}

// DisableRule handles POST /v1/rules/{id}/disable. Rules are never deleted.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.store.SetRuleActive(ctx, id, false); err != nil {
		writeError(w, err)
		return
	}
	h.reload(r)

	slog.Info("rule disabled", "rule_id", id)
	rule, err := h.store.GetRule(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ReloadRules handles POST /v1/rules/reload.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	result, err := h.catalog.Reload(r.Context())
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err))
		return
	}

	rejected := make([]string, len(result.Rejected))
	for i, e := range result.Rejected {
		rejected[i] = e.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "rules reloaded successfully",
		"loaded":   result.Loaded,
		"rejected": rejected,
	})
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, rule *domain.Rule) bool {
	if err := h.catalog.Validate(rule); err != nil {
		writeError(w, err)
		return false
	}
	if err := h.store.SaveRule(r.Context(), rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeError(w, err)
		return false
	}
	h.reload(r)
	return true
}

// reload refreshes the catalog after a rule change. A failed reload keeps
// the previous snapshot; the change is already stored.
func (h *Handler) reload(r *http.Request) {
	if _, err := h.catalog.Reload(r.Context()); err != nil {
		slog.Error("failed to reload rules after change", "error", err)
	}
}
