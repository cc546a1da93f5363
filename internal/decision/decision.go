// Package decision aggregates indicators into a bounded risk score and maps
// the score onto an action.
package decision

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Confidence levels used when no per-subject baseline applies.
const (
	OnboardingConfidence         = 0.5
	OnboardingDegradedConfidence = 0.25
	LowSampleConfidenceCap       = 0.5
	LowSampleThreshold           = 10
)

// Processor aggregates evidence for one event and makes the decision.
type Processor struct {
	thresholds domain.Thresholds
}

// NewProcessor creates a processor with the given decision ladder.
func NewProcessor(thresholds domain.Thresholds) *Processor {
	return &Processor{thresholds: thresholds}
}

// Input contains all data needed for a decision.
type Input struct {
	Category  domain.Category
	Extracted []domain.Indicator
	Matches   []rules.Match

	// Profile is the pre-update profile the event was scored against.
	Profile *domain.BehaviorProfile

	// LookupFailed is set when an onboarding Store lookup failed.
	LookupFailed bool

	// Degraded is set when the profile could not be read.
	Degraded bool
}

// Outcome is the decision plus what the case recorder needs to know.
type Outcome struct {
	Decision             domain.Decision
	Fired                []*domain.Rule
	RequiresManualReview bool
}

// Process evaluates the evidence and produces a decision. It is a pure
// function of its input.
func (p *Processor) Process(in *Input) *Outcome {
	ruleIndicators := make([]domain.Indicator, len(in.Matches))
	fired := make([]*domain.Rule, len(in.Matches))
	for i, m := range in.Matches {
		ruleIndicators[i] = m.Indicator
		fired[i] = m.Rule
	}

	score, indicators := Aggregate(in.Extracted, ruleIndicators)
	action, pendingOverride := p.Decide(score, fired)

	requiresReview := action == domain.ActionManualReview
	for _, r := range fired {
		if r.RequiresManualReview {
			requiresReview = true
		}
	}

	return &Outcome{
		Decision: domain.Decision{
			Action:          action,
			RiskScore:       score,
			Confidence:      Confidence(in.Category, in.Profile, in.LookupFailed, in.Degraded),
			Indicators:      indicators,
			PendingOverride: pendingOverride,
			Degraded:        in.Degraded,
		},
		Fired:                fired,
		RequiresManualReview: requiresReview,
	}
}

// Aggregate sums indicator scores, saturating at 1. Extractor indicators
// come first, then rule indicators, each in their given order.
func Aggregate(extracted, ruleIndicators []domain.Indicator) (float64, []domain.Indicator) {
	indicators := make([]domain.Indicator, 0, len(extracted)+len(ruleIndicators))
	indicators = append(indicators, extracted...)
	indicators = append(indicators, ruleIndicators...)

	var score float64
	for _, ind := range indicators {
		if ind.Score > 0 {
			score += ind.Score
		}
	}
	if score > 1 {
		score = 1
	}
	return score, indicators
}

// Decide maps a score onto the action ladder and applies rule escalations.
// Escalations only ever raise the action.
func (p *Processor) Decide(score float64, fired []*domain.Rule) (domain.Action, bool) {
	var autoBlock, autoFlag, requireReview bool
	for _, r := range fired {
		autoBlock = autoBlock || r.AutoBlock
		autoFlag = autoFlag || r.AutoFlag
		requireReview = requireReview || r.RequiresManualReview
	}

	action := domain.ActionAllow
	pendingOverride := false
	switch {
	case score > p.thresholds.Block:
		if autoBlock {
			action = domain.ActionBlock
		} else {
			action = domain.ActionManualReview
			pendingOverride = true
		}
	case score > p.thresholds.ManualReview:
		action = domain.ActionManualReview
	case score > p.thresholds.Flag:
		action = domain.ActionFlag
	}

	if requireReview {
		action = raise(action, domain.ActionManualReview)
	}
	if autoFlag {
		action = raise(action, domain.ActionFlag)
	}
	return action, pendingOverride
}

func raise(current, floor domain.Action) domain.Action {
	if floor.Rank() > current.Rank() {
		return floor
	}
	return current
}

// Confidence reports how much the decision can lean on learned behavior.
// Onboarding has no per-subject history and uses a fixed level.
func Confidence(category domain.Category, profile *domain.BehaviorProfile, lookupFailed, degraded bool) float64 {
	if category == domain.CategoryOnboarding {
		if lookupFailed {
			return OnboardingDegradedConfidence
		}
		return OnboardingConfidence
	}
	if degraded || profile == nil {
		return 0
	}
	c := profile.Confidence
	if profile.Samples < LowSampleThreshold && c > LowSampleConfidenceCap {
		c = LowSampleConfidenceCap
	}
	return c
}
