package domain

import (
	"fmt"
	"time"
)

// CaseStatus is the review state of a detection case.
type CaseStatus string

const (
	CaseStatusPending       CaseStatus = "pending"
	CaseStatusInvestigating CaseStatus = "investigating"
	CaseStatusResolved      CaseStatus = "resolved"
	CaseStatusFalsePositive CaseStatus = "false_positive"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusPending, CaseStatusInvestigating, CaseStatusResolved, CaseStatusFalsePositive:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusResolved || s == CaseStatusFalsePositive
}

// CanTransition reports whether a case may move from s to next.
// Transitions only move forward: pending -> investigating -> {resolved, false_positive}.
// A pending case may also be closed directly.
func (s CaseStatus) CanTransition(next CaseStatus) bool {
	switch s {
	case CaseStatusPending:
		return next == CaseStatusInvestigating || next.Terminal()
	case CaseStatusInvestigating:
		return next.Terminal()
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when s cannot move to next.
func ValidateTransition(from, to CaseStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CaseAction is the enforcement recorded on a case.
type CaseAction string

const (
	CaseActionNone  CaseAction = "none"
	CaseActionFlag  CaseAction = "flag"
	CaseActionBlock CaseAction = "block"
)

// DetectionCase is the persisted record of a flagged event. Everything but
// the review fields is immutable once recorded.
type DetectionCase struct {
	ID         string      `json:"id"`
	SubjectID  string      `json:"subjectId"`
	Category   Category    `json:"category"`
	RiskScore  float64     `json:"riskScore"`
	Confidence float64     `json:"confidence"`
	Indicators []Indicator `json:"indicators"`

	// Rules are the rules that fired, as they were when the case was raised.
	Rules []RuleSnapshot `json:"rules,omitempty"`

	Decision             Action     `json:"decision"`
	ActionTaken          CaseAction `json:"actionTaken"`
	RequiresManualReview bool       `json:"requiresManualReview"`
	PendingOverride      bool       `json:"pendingOverride,omitempty"`
	SourceIP             string     `json:"sourceIp,omitempty"`
	OccurredAt           time.Time  `json:"occurredAt"`

	Status     CaseStatus `json:"status"`
	ReviewerID string     `json:"reviewerId,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CaseFilter narrows ListDetectionCases.
type CaseFilter struct {
	Status    CaseStatus
	SubjectID string
	Limit     int
}

// OperationalAlert reports an engine failure that needs operator attention.
type OperationalAlert struct {
	Kind      string    `json:"kind"`
	SubjectID string    `json:"subjectId"`
	Category  Category  `json:"category"`
	Action    Action    `json:"action"`
	RiskScore float64   `json:"riskScore"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// Operational alert kinds.
const (
	AlertCasePersistFailed = "case_persist_failed"
	AlertNotifyFailed      = "notify_failed"
)
