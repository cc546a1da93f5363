package engine

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/signals"
)

type identity struct {
	field string
	value string
}

// identities returns the normalized identity fields of a registration.
// Emails match case-insensitively.
func identities(o *domain.OnboardingContext) []identity {
	all := []identity{
		{domain.IdentityEmail, strings.ToLower(strings.TrimSpace(o.Email))},
		{domain.IdentityPhone, strings.TrimSpace(o.Phone)},
		{domain.IdentityNationalID, strings.TrimSpace(o.NationalID)},
	}
	out := all[:0]
	for _, id := range all {
		if id.value != "" {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) gatherLookups(ctx context.Context, ev *domain.Event) signals.Lookups {
	switch ev.Category {
	case domain.CategoryOnboarding:
		return signals.Lookups{Onboarding: e.onboardingLookups(ctx, ev)}
	case domain.CategoryAccessScan:
		return signals.Lookups{Access: e.accessLookups(ctx, ev)}
	}
	return signals.Lookups{}
}

// onboardingLookups runs the registration Store queries concurrently. Every
// query runs to completion; any failure marks the lookups as failed and the
// affected facts are left empty.
func (e *Engine) onboardingLookups(ctx context.Context, ev *domain.Event) domain.OnboardingLookups {
	o := ev.Onboarding
	ids := identities(o)
	owners := make([][]string, len(ids))
	var devices, detections int

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			return e.call(ctx, func(ctx context.Context) (err error) {
				owners[i], err = e.store.FindDuplicateIdentity(ctx, id.field, id.value, ev.SubjectID)
				return err
			})
		})
	}
	if o.DeviceFingerprint != "" {
		g.Go(func() error {
			return e.call(ctx, func(ctx context.Context) (err error) {
				devices, err = e.store.CountAccountsByDevice(ctx, o.DeviceFingerprint, ev.SubjectID, ev.OccurredAt.Add(-signals.DeviceReuseWindow))
				return err
			})
		})
	}
	if o.IPAddress != "" {
		g.Go(func() error {
			return e.call(ctx, func(ctx context.Context) (err error) {
				detections, err = e.store.CountDetectionsByIP(ctx, o.IPAddress, ev.OccurredAt.Add(-signals.IPBurstWindow))
				return err
			})
		})
	}

	err := g.Wait()

	lookups := domain.OnboardingLookups{
		Duplicates:     make(map[string][]string, len(ids)),
		DeviceAccounts: devices,
		IPDetections:   detections,
		Failed:         err != nil,
	}
	for i, id := range ids {
		if len(owners[i]) > 0 {
			lookups.Duplicates[id.field] = owners[i]
		}
	}
	if err != nil {
		metrics.StoreFailures.WithLabelValues("onboarding_lookup").Inc()
		e.logger.Warn("onboarding lookup failed", "user_id", ev.SubjectID, "error", err)
	}
	return lookups
}

func (e *Engine) accessLookups(ctx context.Context, ev *domain.Event) domain.AccessLookups {
	if e.reads == nil {
		return domain.AccessLookups{}
	}
	var n int64
	err := e.call(ctx, func(ctx context.Context) (err error) {
		n, err = e.reads.DailyReads(ctx, credentialOf(ev), ev.OccurredAt)
		return err
	})
	if err != nil {
		metrics.StoreFailures.WithLabelValues("daily_reads").Inc()
		e.logger.Warn("daily read count unavailable", "credential_id", credentialOf(ev), "error", err)
		return domain.AccessLookups{Failed: true}
	}
	return domain.AccessLookups{DailyReads: n}
}

func credentialOf(ev *domain.Event) string {
	if ev.Access != nil && ev.Access.CredentialID != "" {
		return ev.Access.CredentialID
	}
	return ev.SubjectID
}
