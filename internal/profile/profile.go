// Package profile folds events into behavior profiles.
package profile

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Updater derives the next profile after an event has been scored.
type Updater struct {
	bounds domain.HistoryBounds
	loc    *time.Location
}

// NewUpdater creates an updater. Zero bounds fall back to the defaults.
func NewUpdater(bounds domain.HistoryBounds, loc *time.Location) *Updater {
	def := domain.DefaultHistoryBounds()
	if bounds.LoginTimes <= 0 {
		bounds.LoginTimes = def.LoginTimes
	}
	if bounds.Locations <= 0 {
		bounds.Locations = def.Locations
	}
	if bounds.Devices <= 0 {
		bounds.Devices = def.Devices
	}
	if bounds.AccessReads <= 0 {
		bounds.AccessReads = def.AccessReads
	}
	if bounds.Numeric <= 0 {
		bounds.Numeric = def.Numeric
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Updater{bounds: bounds, loc: loc}
}

// Update returns a new profile with ev folded in. The input profile is not
// modified. Version is left for the Store to advance.
func (u *Updater) Update(p *domain.BehaviorProfile, ev *domain.Event, now time.Time) *domain.BehaviorProfile {
	next := p.Clone()
	if next.Numeric == nil {
		next.Numeric = make(map[string][]float64)
	}
	local := ev.OccurredAt.In(u.loc)

	switch {
	case ev.Login != nil:
		l := ev.Login
		next.LoginTimes = appendBounded(next.LoginTimes, domain.TimeBucket{Weekday: local.Weekday(), Hour: local.Hour()}, u.bounds.LoginTimes)
		if l.Country != "" {
			loc := domain.GeoLocation{City: l.City, Country: l.Country}
			next.Locations = appendBounded(next.Locations, loc, u.bounds.Locations)
		}
		if l.OS != "" || l.Browser != "" || l.DeviceFingerprint != "" {
			dev := domain.DeviceSignature{OS: l.OS, Browser: l.Browser, Fingerprint: l.DeviceFingerprint}
			next.Devices = appendBounded(next.Devices, dev, u.bounds.Devices)
		}
	case ev.Access != nil:
		read := domain.AccessRead{ReaderID: ev.Access.ReaderID, LocationID: ev.Access.LocationID, At: ev.OccurredAt}
		next.AccessReads = appendBounded(next.AccessReads, read, u.bounds.AccessReads)
	}

	for name, v := range ev.Fields(u.loc) {
		if f, ok := v.(float64); ok {
			next.Numeric[name] = appendBounded(next.Numeric[name], f, u.bounds.Numeric)
		}
	}

	next.Samples++
	next.Confidence += next.LearningRate * (1 - next.Confidence)
	if next.Confidence > 1 {
		next.Confidence = 1
	}
	next.LastUpdated = now
	return next
}

// appendBounded appends v and evicts the oldest entries past bound.
func appendBounded[T any](history []T, v T, bound int) []T {
	history = append(history, v)
	if over := len(history) - bound; over > 0 {
		history = append(history[:0:0], history[over:]...)
	}
	return history
}
