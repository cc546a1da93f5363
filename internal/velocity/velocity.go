// Package velocity counts access reads per credential per local day.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// counterWindow outlives a calendar day so a counter created just after
// midnight is still readable until the day ends, including DST days.
const counterWindow = 25 * time.Hour

// Service tracks daily read counts for access credentials.
type Service struct {
	cache domain.Cache
	loc   *time.Location
}

// NewService creates a velocity service. Days are cut in loc.
func NewService(cache domain.Cache, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{cache: cache, loc: loc}
}

// Key returns the counter key for credentialID on the local day of at.
func (s *Service) Key(credentialID string, at time.Time) string {
	return "reads:" + credentialID + ":" + at.In(s.loc).Format("2006-01-02")
}

// DailyReads returns how many reads credentialID already made on the local
// day of at.
func (s *Service) DailyReads(ctx context.Context, credentialID string, at time.Time) (int64, error) {
	if credentialID == "" {
		return 0, fmt.Errorf("%w: credential id is required", domain.ErrInvalidInput)
	}
	n, err := s.cache.Counter(ctx, s.Key(credentialID, at))
	if err != nil {
		return 0, fmt.Errorf("failed to read daily reads: %w", err)
	}
	return n, nil
}

// RecordRead counts one read and returns the new daily total.
func (s *Service) RecordRead(ctx context.Context, credentialID string, at time.Time) (int64, error) {
	if credentialID == "" {
		return 0, fmt.Errorf("%w: credential id is required", domain.ErrInvalidInput)
	}
	n, err := s.cache.IncrementCounter(ctx, s.Key(credentialID, at), counterWindow)
	if err != nil {
		return 0, fmt.Errorf("failed to record read: %w", err)
	}
	return n, nil
}
