// Package signals derives heuristic risk indicators from an event and the
// subject's behavior profile. Extraction is pure: it performs no I/O and
// never mutates its inputs.
package signals

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Heuristic limits. Scores come from domain.IndicatorWeights; these are the
// conditions under which each indicator fires.
const (
	DeviceReuseAccounts = 3
	DeviceReuseWindow   = 30 * 24 * time.Hour
	IPBurstDetections   = 5
	IPBurstWindow       = 24 * time.Hour

	FormFastSecs     = 30.0
	FormSlowSecs     = 3600.0
	MaxPasteCount    = 5
	MinPointerEvents = 2

	MinLoginHistory = 5
	HourTolerance   = 2
	DayStartHour    = 6
	DayEndHour      = 22

	DuplicateReadWindow    = 30 * time.Second
	ImpossibleTravelWindow = 5 * time.Minute
	MaxDailyReads          = 20
)

// Lookups are the Store facts the engine gathers before extraction.
type Lookups struct {
	Onboarding domain.OnboardingLookups
	Access     domain.AccessLookups
}

// Options configure an Extractor.
type Options struct {
	Weights         domain.IndicatorWeights
	Location        *time.Location
	DevelopmentMode bool
}

// Extractor runs the extractor family matching an event's category.
type Extractor struct {
	weights domain.IndicatorWeights
	loc     *time.Location
	devMode bool
}

// New creates an extractor.
func New(opts Options) *Extractor {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{
		weights: opts.Weights,
		loc:     loc,
		devMode: opts.DevelopmentMode,
	}
}

// Extract returns the indicators for ev in a fixed, per-family order.
// The profile may be empty but must not be nil.
func (x *Extractor) Extract(ev *domain.Event, profile *domain.BehaviorProfile, lookups Lookups) []domain.Indicator {
	switch ev.Category {
	case domain.CategoryOnboarding:
		return x.onboarding(ev, lookups.Onboarding)
	case domain.CategoryLogin:
		return x.login(ev, profile)
	case domain.CategoryAccessScan:
		return x.access(ev, profile, lookups.Access)
	}
	return nil
}

func indicator(name string, score float64, rationale string) domain.Indicator {
	return domain.Indicator{
		Name:      name,
		Score:     score,
		Source:    domain.SourceExtractor,
		Rationale: rationale,
	}
}
