package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Workflow moves cases through review. Transitions only go forward.
type Workflow struct {
	store CaseStore
	now   func() time.Time
}

// NewWorkflow creates a review workflow over store.
func NewWorkflow(store CaseStore) *Workflow {
	return &Workflow{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Transition changes the status of a case on behalf of a reviewer and
// returns the updated case. The Store applies the change only if the case
// is still in the status it was read in.
func (w *Workflow) Transition(ctx context.Context, caseID string, to domain.CaseStatus, reviewerID, notes string) (*domain.DetectionCase, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", domain.ErrInvalidInput)
	}

	current, err := w.store.GetDetectionCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(current.Status, to); err != nil {
		return nil, err
	}

	if err := w.store.UpdateCaseStatus(ctx, caseID, current.Status, to, reviewerID, notes, w.now()); err != nil {
		return nil, err
	}
	metrics.CaseTransitions.WithLabelValues(string(to)).Inc()

	return w.store.GetDetectionCase(ctx, caseID)
}
