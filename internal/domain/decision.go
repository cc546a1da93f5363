package domain

// Action is the escalation chosen by the decision policy.
type Action string

const (
	ActionAllow        Action = "allow"
	ActionFlag         Action = "flag"
	ActionManualReview Action = "manual_review"
	ActionBlock        Action = "block"
)

// Rank orders actions by severity so escalations can only raise them.
func (a Action) Rank() int {
	switch a {
	case ActionFlag:
		return 1
	case ActionManualReview:
		return 2
	case ActionBlock:
		return 3
	}
	return 0
}

// CaseAction maps the decision to the enforcement recorded on a case.
func (a Action) CaseAction() CaseAction {
	switch a {
	case ActionBlock:
		return CaseActionBlock
	case ActionFlag, ActionManualReview:
		return CaseActionFlag
	}
	return CaseActionNone
}

// Decision is the engine's answer for one event. Callers gate the real
// action on Action != ActionBlock and must show Indicators to reviewers as-is.
type Decision struct {
	Action     Action      `json:"action"`
	RiskScore  float64     `json:"riskScore"`
	Confidence float64     `json:"confidence"`
	Indicators []Indicator `json:"indicators"`
	CaseID     string      `json:"caseId,omitempty"`

	// PendingOverride marks a score in the block band without an auto-block
	// rule; the case waits for an operator.
	PendingOverride bool `json:"pendingOverride,omitempty"`

	// Degraded is set when the profile could not be read and the event was
	// judged only on stateless and rule evidence.
	Degraded bool `json:"degraded,omitempty"`
}

// Thresholds is the decision ladder. Scores strictly above a threshold
// reach that band.
type Thresholds struct {
	Block        float64 `koanf:"block" json:"block"`
	ManualReview float64 `koanf:"manual_review" json:"manualReview"`
	Flag         float64 `koanf:"flag" json:"flag"`
}

// DefaultThresholds returns the shipped ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Block:        0.8,
		ManualReview: 0.5,
		Flag:         0.3,
	}
}

// UserVerificationMessage is the only text a blocked subject ever receives.
const UserVerificationMessage = "Please verify your identity to continue."
