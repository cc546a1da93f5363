package domain

import "time"

// RuleType scopes a rule to the events it can be evaluated against.
type RuleType string

const (
	RuleTypeOnboarding RuleType = "onboarding"
	RuleTypeLogin      RuleType = "login"
	RuleTypeAccess     RuleType = "access"
	RuleTypePayment    RuleType = "payment"
	RuleTypeAcademic   RuleType = "academic"
)

// AllRuleTypes lists every rule type the catalog accepts.
func AllRuleTypes() []RuleType {
	return []RuleType{RuleTypeOnboarding, RuleTypeLogin, RuleTypeAccess, RuleTypePayment, RuleTypeAcademic}
}

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	for _, known := range AllRuleTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// DetectionMethod selects how a rule inspects an event.
type DetectionMethod string

const (
	MethodThreshold   DetectionMethod = "threshold"
	MethodPattern     DetectionMethod = "pattern"
	MethodStatistical DetectionMethod = "statistical"
	MethodExpression  DetectionMethod = "expression"
)

// Severity is an operator facing classification of a rule.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rule is an administrator configured detection rule.
type Rule struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description"`
	RuleType    RuleType        `json:"ruleType" yaml:"ruleType"`
	Method      DetectionMethod `json:"method" yaml:"method"`

	// Parameters are method specific, e.g. {"field": "paste_count", "threshold": 5}.
	Parameters map[string]any `json:"parameters" yaml:"parameters"`

	// Weight is the rule's contribution to the aggregate score. Never negative.
	Weight   float64  `json:"weight" yaml:"weight"`
	Severity Severity `json:"severity" yaml:"severity"`

	AutoFlag             bool `json:"autoFlag" yaml:"autoFlag"`
	AutoBlock            bool `json:"autoBlock" yaml:"autoBlock"`
	RequiresManualReview bool `json:"requiresManualReview" yaml:"requiresManualReview"`

	// Active rules are evaluated. Rules are disabled, never deleted.
	Active bool `json:"active" yaml:"active"`

	Version   int       `json:"version" yaml:"-"`
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// RuleSnapshot is the copy of a rule recorded on a detection case, so later
// edits never change why a historic case was raised.
type RuleSnapshot struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Method     DetectionMethod `json:"method"`
	Weight     float64         `json:"weight"`
	Severity   Severity        `json:"severity"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

// Snapshot copies the fields of r that explain a detection.
func (r *Rule) Snapshot() RuleSnapshot {
	params := make(map[string]any, len(r.Parameters))
	for k, v := range r.Parameters {
		params[k] = v
	}
	return RuleSnapshot{
		ID:         r.ID,
		Name:       r.Name,
		Version:    r.Version,
		Method:     r.Method,
		Weight:     r.Weight,
		Severity:   r.Severity,
		Parameters: params,
	}
}
