package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *engine.Engine
	store    domain.Store
	catalog  *rules.Catalog
	workflow *cases.Workflow
	bus      domain.EventBus
	version  string
	now      func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:   deps.Engine,
		store:    deps.Store,
		catalog:  deps.Catalog,
		workflow: deps.Workflow,
		bus:      deps.Bus,
		version:  deps.Version,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnboardingRequest is the request body for POST /v1/score/onboarding.
type OnboardingRequest struct {
	Candidate  domain.Candidate           `json:"candidate"`
	Request    domain.RegistrationRequest `json:"request"`
	OccurredAt *time.Time                 `json:"occurredAt,omitempty"`
}

// LoginRequest is the request body for POST /v1/score/login.
type LoginRequest struct {
	UserID string `json:"userId"`
	domain.LoginContext
	OccurredAt *time.Time `json:"occurredAt,omitempty"`
}

// AccessRequest is the request body for POST /v1/score/access.
type AccessRequest struct {
	domain.AccessContext
	OccurredAt *time.Time `json:"occurredAt,omitempty"`
}

// ResponseMetadata is attached to every scoring response.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ScoreResponse is the response for the scoring endpoints.
type ScoreResponse struct {
	domain.Decision
	Metadata ResponseMetadata `json:"metadata"`
}

// IngestResponse is the response for POST /v1/events.
type IngestResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

// ScoreOnboarding handles POST /v1/score/onboarding.
func (h *Handler) ScoreOnboarding(w http.ResponseWriter, r *http.Request) {
	var req OnboardingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev := engine.NewOnboardingEvent(req.Candidate, req.Request, h.occurredAt(req.OccurredAt))
	h.score(w, r, ev)
}

// ScoreLogin handles POST /v1/score/login.
func (h *Handler) ScoreLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev := engine.NewLoginEvent(req.UserID, req.LoginContext, h.occurredAt(req.OccurredAt))
	h.score(w, r, ev)
}

// ScoreAccess handles POST /v1/score/access.
func (h *Handler) ScoreAccess(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ac := req.AccessContext
	ev := engine.NewAccessEvent(ac.CredentialID, ac.ReaderID, ac, h.occurredAt(req.OccurredAt))
	h.score(w, r, ev)
}

func (h *Handler) score(w http.ResponseWriter, r *http.Request, ev *domain.Event) {
	start := time.Now()
	ctx := r.Context()

	d, err := h.engine.Score(ctx, ev)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Decision: *d,
		Metadata: ResponseMetadata{
			TraceID: GetTraceID(ctx),
			TotalMs: time.Since(start).Milliseconds(),
			Version: h.version,
		},
	})
}

// IngestEvent handles POST /v1/events. The event is validated and queued
// for the async worker; its decision is published on the decision topic.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var ev domain.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}
	if err := ev.Validate(); err != nil {
		writeError(w, err)
		return
	}

	msg := domain.EventMessage{ID: uuid.New().String(), Event: ev}
	payload, err := json.Marshal(msg)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicEventIngested, payload); err != nil {
		slog.Error("failed to publish event", "event_id", msg.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue event",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{EventID: msg.ID, Status: "queued"})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			status = "degraded"
			components["store"] = err.Error()
		} else {
			components["store"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
			components["bus"] = err.Error()
		} else {
			components["bus"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic. It is ready
// once a rule catalog and a reachable store are wired.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.catalog == nil || h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"rules":  h.catalog.Snapshot().Len(),
	})
}

func (h *Handler) occurredAt(at *time.Time) time.Time {
	if at == nil || at.IsZero() {
		return h.now()
	}
	return at.UTC()
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownEventCategory),
		errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
