package profile

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var start = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func login(at time.Time, city, country string) *domain.Event {
	return &domain.Event{
		Category:   domain.CategoryLogin,
		SubjectID:  "u1",
		OccurredAt: at,
		Login:      &domain.LoginContext{OS: "Android", Browser: "Chrome", City: city, Country: country},
	}
}

func TestUpdateLogin(t *testing.T) {
	u := NewUpdater(domain.DefaultHistoryBounds(), time.UTC)
	p := domain.NewProfile("u1", domain.CategoryLogin, 0.1)

	next := u.Update(p, login(start, "Nairobi", "KE"), start)

	if p.Samples != 0 || len(p.LoginTimes) != 0 {
		t.Fatalf("input profile was modified")
	}
	if next.Samples != 1 {
		t.Errorf("expected 1 sample, got %d", next.Samples)
	}
	if len(next.LoginTimes) != 1 || next.LoginTimes[0] != (domain.TimeBucket{Weekday: time.Monday, Hour: 8}) {
		t.Errorf("unexpected login times %v", next.LoginTimes)
	}
	if last, ok := next.LastLocation(); !ok || last.Country != "KE" {
		t.Errorf("expected KE as last location, got %v", next.Locations)
	}
	if len(next.Numeric["hour"]) != 1 {
		t.Errorf("expected hour recorded as numeric history")
	}
	if !next.LastUpdated.Equal(start) {
		t.Errorf("expected LastUpdated %v, got %v", start, next.LastUpdated)
	}
}

func TestUpdateBoundedHistory(t *testing.T) {
	bounds := domain.DefaultHistoryBounds()
	u := NewUpdater(bounds, time.UTC)
	p := domain.NewProfile("u1", domain.CategoryLogin, 0.1)

	for i := 0; i <= bounds.LoginTimes; i++ {
		p = u.Update(p, login(start.Add(time.Duration(i)*time.Hour), "Nairobi", "KE"), start)
	}
	if len(p.LoginTimes) != bounds.LoginTimes {
		t.Errorf("expected %d login times, got %d", bounds.LoginTimes, len(p.LoginTimes))
	}
	if got := p.LoginTimes[0].Hour; got != 9 {
		t.Errorf("expected oldest entry evicted, first hour is %d", got)
	}

	t.Run("Locations", func(t *testing.T) {
		p := domain.NewProfile("u1", domain.CategoryLogin, 0.1)
		for i := 0; i <= bounds.Locations; i++ {
			p = u.Update(p, login(start, string(rune('A'+i)), "KE"), start)
		}
		if len(p.Locations) != bounds.Locations {
			t.Errorf("expected %d locations, got %d", bounds.Locations, len(p.Locations))
		}
		if p.Locations[0].City != "B" {
			t.Errorf("expected oldest location evicted, got %s first", p.Locations[0].City)
		}
	})

	t.Run("AccessReads", func(t *testing.T) {
		p := domain.NewProfile("card-1", domain.CategoryAccessScan, 0.1)
		for i := 0; i <= bounds.AccessReads; i++ {
			ev := &domain.Event{
				Category:   domain.CategoryAccessScan,
				SubjectID:  "card-1",
				OccurredAt: start.Add(time.Duration(i) * time.Minute),
				Access:     &domain.AccessContext{CredentialID: "card-1", ReaderID: "r1", LocationID: "gate"},
			}
			p = u.Update(p, ev, start)
		}
		if len(p.AccessReads) != bounds.AccessReads {
			t.Errorf("expected %d reads, got %d", bounds.AccessReads, len(p.AccessReads))
		}
		if last, _ := p.LastRead(); !last.At.Equal(start.Add(time.Duration(bounds.AccessReads) * time.Minute)) {
			t.Errorf("expected newest read last, got %v", last.At)
		}
	})
}

func TestUpdateRepeatedValuesKeepRollingWindow(t *testing.T) {
	bounds := domain.DefaultHistoryBounds()
	u := NewUpdater(bounds, time.UTC)
	p := domain.NewProfile("u1", domain.CategoryLogin, 0.1)

	p = u.Update(p, login(start, "Kampala", "UG"), start)
	for i := 0; i < bounds.Locations; i++ {
		p = u.Update(p, login(start.Add(time.Duration(i+1)*time.Minute), "Nairobi", "KE"), start)
	}

	if len(p.Locations) != bounds.Locations {
		t.Errorf("expected %d locations, got %d", bounds.Locations, len(p.Locations))
	}
	if len(p.Devices) != bounds.Devices {
		t.Errorf("expected %d devices, got %d", bounds.Devices, len(p.Devices))
	}
	for _, loc := range p.Locations {
		if loc.Country != "KE" {
			t.Fatalf("expected the oldest location evicted, found %s, %s", loc.City, loc.Country)
		}
	}
	if last, _ := p.LastLocation(); last.City != "Nairobi" {
		t.Errorf("expected Nairobi newest, got %s", last.City)
	}
}

func TestUpdateConfidenceMonotonic(t *testing.T) {
	u := NewUpdater(domain.DefaultHistoryBounds(), time.UTC)
	p := domain.NewProfile("u1", domain.CategoryLogin, 0.1)

	prev := p.Confidence
	for i := 0; i < 100; i++ {
		p = u.Update(p, login(start, "Nairobi", "KE"), start)
		if p.Confidence < prev || p.Confidence > 1 {
			t.Fatalf("confidence went from %v to %v", prev, p.Confidence)
		}
		prev = p.Confidence
	}
	if p.Confidence < 0.99 {
		t.Errorf("expected confidence to approach 1, got %v", p.Confidence)
	}
}
