package signals

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func (x *Extractor) login(ev *domain.Event, profile *domain.BehaviorProfile) []domain.Indicator {
	l := ev.Login
	var out []domain.Indicator

	if ind, ok := x.timeOfDay(ev, profile); ok {
		out = append(out, ind)
	}
	if ind, ok := x.geolocation(l, profile); ok {
		out = append(out, ind)
	}
	if ind, ok := x.device(l, profile); ok {
		out = append(out, ind)
	}
	return out
}

// timeOfDay compares the login hour with the buckets recorded for the same
// weekday. When the weekday has never been seen every bucket is used.
func (x *Extractor) timeOfDay(ev *domain.Event, profile *domain.BehaviorProfile) (domain.Indicator, bool) {
	if len(profile.LoginTimes) < MinLoginHistory {
		return domain.Indicator{}, false
	}
	local := ev.OccurredAt.In(x.loc)
	hour := local.Hour()

	var hours []int
	for _, b := range profile.LoginTimes {
		if b.Weekday == local.Weekday() {
			hours = append(hours, b.Hour)
		}
	}
	if len(hours) == 0 {
		for _, b := range profile.LoginTimes {
			hours = append(hours, b.Hour)
		}
	}
	for _, h := range hours {
		if hourDistance(hour, h) <= HourTolerance {
			return domain.Indicator{}, false
		}
	}

	if hour < DayStartHour || hour > DayEndHour {
		return indicator(domain.IndicatorOffHoursLogin, x.weights.OffHoursLogin,
			fmt.Sprintf("login at %02d:00 outside usual hours and the school day", hour)), true
	}
	return indicator(domain.IndicatorUnusualHour, x.weights.UnusualHour,
		fmt.Sprintf("login at %02d:00 outside usual hours", hour)), true
}

// hourDistance is the distance between two hours on a 24h clock.
func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

func (x *Extractor) geolocation(l *domain.LoginContext, profile *domain.BehaviorProfile) (domain.Indicator, bool) {
	if l.Country == "" {
		return domain.Indicator{}, false
	}
	last, ok := profile.LastLocation()
	if !ok {
		return domain.Indicator{}, false
	}

	knownCountry, knownCity := false, false
	for _, loc := range profile.Locations {
		if strings.EqualFold(loc.Country, l.Country) {
			knownCountry = true
			if strings.EqualFold(loc.City, l.City) {
				knownCity = true
			}
		}
	}

	var candidates []domain.Indicator
	if !strings.EqualFold(last.Country, l.Country) {
		candidates = append(candidates, indicator(domain.IndicatorGeoCountrySwitch, x.weights.GeoCountrySwitch,
			fmt.Sprintf("country changed from %s to %s since the previous login", last.Country, l.Country)))
	}
	if !knownCountry {
		candidates = append(candidates, indicator(domain.IndicatorGeoNewCountry, x.weights.GeoNewCountry,
			fmt.Sprintf("first login from %s", l.Country)))
	} else if !knownCity && l.City != "" {
		candidates = append(candidates, indicator(domain.IndicatorGeoNewCity, x.weights.GeoNewCity,
			fmt.Sprintf("first login from %s, %s", l.City, l.Country)))
	}
	if len(candidates) == 0 {
		return domain.Indicator{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

func (x *Extractor) device(l *domain.LoginContext, profile *domain.BehaviorProfile) (domain.Indicator, bool) {
	if len(profile.Devices) == 0 || (l.OS == "" && l.Browser == "") {
		return domain.Indicator{}, false
	}
	for _, d := range profile.Devices {
		if strings.EqualFold(d.OS, l.OS) && strings.EqualFold(d.Browser, l.Browser) {
			return domain.Indicator{}, false
		}
	}
	return indicator(domain.IndicatorNewDevice, x.weights.NewDevice,
		fmt.Sprintf("first login with %s on %s", l.Browser, l.OS)), true
}
