// Package cases records detection cases for non-allow decisions and drives
// the reviewer workflow.
package cases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// CaseStore is the part of the Store the case package uses.
type CaseStore interface {
	SaveDetectionCase(ctx context.Context, c *domain.DetectionCase) error
	GetDetectionCase(ctx context.Context, caseID string) (*domain.DetectionCase, error)
	UpdateCaseStatus(ctx context.Context, caseID string, from, to domain.CaseStatus, reviewerID, notes string, at time.Time) error
}

// Recorder persists cases and raises notifications.
type Recorder struct {
	store    CaseStore
	notifier domain.Notifier
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder. timeout bounds each Store and Notifier call.
func NewRecorder(store CaseStore, notifier domain.Notifier, timeout time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:    store,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles the case for an outcome without persisting it.
func (r *Recorder) Build(ev *domain.Event, out *decision.Outcome) *domain.DetectionCase {
	now := r.now()
	snaps := make([]domain.RuleSnapshot, len(out.Fired))
	for i, rule := range out.Fired {
		snaps[i] = rule.Snapshot()
	}
	return &domain.DetectionCase{
		ID:                   uuid.New().String(),
		SubjectID:            ev.SubjectID,
		Category:             ev.Category,
		RiskScore:            out.Decision.RiskScore,
		Confidence:           out.Decision.Confidence,
		Indicators:           append([]domain.Indicator(nil), out.Decision.Indicators...),
		Rules:                snaps,
		Decision:             out.Decision.Action,
		ActionTaken:          out.Decision.Action.CaseAction(),
		RequiresManualReview: out.RequiresManualReview,
		PendingOverride:      out.Decision.PendingOverride,
		SourceIP:             ev.SourceIP(),
		OccurredAt:           ev.OccurredAt,
		Status:               domain.CaseStatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Record persists a case for any non-allow outcome and sends the
// notifications it calls for. It returns the case id, or "" for allow.
// When the case cannot be saved operations are alerted and the error is
// returned; the caller still owns the decision.
func (r *Recorder) Record(ctx context.Context, ev *domain.Event, out *decision.Outcome) (string, error) {
	if out.Decision.Action == domain.ActionAllow {
		return "", nil
	}

	c := r.Build(ev, out)
	if err := r.withTimeout(ctx, func(ctx context.Context) error {
		return r.store.SaveDetectionCase(ctx, c)
	}); err != nil {
		metrics.CasePersistFailures.Inc()
		r.logger.Error("failed to persist detection case",
			"user_id", ev.SubjectID, "category", ev.Category, "action", out.Decision.Action, "error", err)
		r.alertOperations(ctx, &domain.OperationalAlert{
			Kind:      domain.AlertCasePersistFailed,
			SubjectID: ev.SubjectID,
			Category:  ev.Category,
			Action:    out.Decision.Action,
			RiskScore: out.Decision.RiskScore,
			Error:     err.Error(),
			At:        r.now(),
		})
		return "", fmt.Errorf("%w: save detection case: %v", domain.ErrStoreUnavailable, err)
	}
	metrics.CasesOpened.WithLabelValues(string(c.Decision)).Inc()

	r.notify(ctx, c, ev.UserID())
	return c.ID, nil
}

func (r *Recorder) notify(ctx context.Context, c *domain.DetectionCase, userID string) {
	if r.notifier == nil {
		return
	}
	if c.Decision == domain.ActionManualReview || c.Decision == domain.ActionBlock {
		if err := r.withTimeout(ctx, func(ctx context.Context) error {
			return r.notifier.NotifyReviewers(ctx, c)
		}); err != nil {
			metrics.NotificationFailures.WithLabelValues("reviewers").Inc()
			r.logger.Warn("failed to notify reviewers", "case_id", c.ID, "error", err)
		}
	}
	if c.Decision == domain.ActionBlock {
		if err := r.withTimeout(ctx, func(ctx context.Context) error {
			return r.notifier.NotifyUser(ctx, userID, domain.UserVerificationMessage)
		}); err != nil {
			metrics.NotificationFailures.WithLabelValues("user").Inc()
			r.logger.Warn("failed to notify user", "case_id", c.ID, "user_id", userID, "error", err)
		}
	}
}

func (r *Recorder) alertOperations(ctx context.Context, alert *domain.OperationalAlert) {
	if r.notifier == nil {
		return
	}
	if err := r.withTimeout(ctx, func(ctx context.Context) error {
		return r.notifier.NotifyOperations(ctx, alert)
	}); err != nil {
		metrics.NotificationFailures.WithLabelValues("operations").Inc()
		r.logger.Error("failed to alert operations", "kind", alert.Kind, "error", err)
	}
}

func (r *Recorder) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if r.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return fn(ctx)
}
