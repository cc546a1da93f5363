package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type memorySource struct {
	mu    sync.Mutex
	rules []*domain.Rule
	err   error
}

func (m *memorySource) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*domain.Rule
	for _, r := range m.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memorySource) set(rules ...*domain.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
}

func thresholdRule(id string, rt domain.RuleType, field string, threshold, weight float64) *domain.Rule {
	return &domain.Rule{
		ID:         id,
		Name:       id,
		RuleType:   rt,
		Method:     domain.MethodThreshold,
		Parameters: map[string]any{"field": field, "threshold": threshold},
		Weight:     weight,
		Severity:   domain.SeverityMedium,
		Active:     true,
	}
}

func TestCatalogReload(t *testing.T) {
	src := &memorySource{}
	cat := NewCatalog(src, newCompiler(t), nil)
	ctx := context.Background()

	if cat.Snapshot().Len() != 0 {
		t.Fatalf("expected empty catalog, got %d rules", cat.Snapshot().Len())
	}

	src.set(
		thresholdRule("paste", domain.RuleTypeOnboarding, "paste_count", 5, 0.3),
		thresholdRule("late", domain.RuleTypeLogin, "hour", 21, 0.2),
		&domain.Rule{ID: "broken", RuleType: domain.RuleTypeLogin, Method: domain.MethodThreshold, Active: true},
	)

	result, err := cat.Reload(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if result.Loaded != 2 {
		t.Errorf("expected 2 rules loaded, got %d", result.Loaded)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].RuleID != "broken" {
		t.Errorf("expected broken rule rejected, got %v", result.Rejected)
	}
	if got := cat.Snapshot().ForType(domain.RuleTypeLogin); len(got) != 1 || got[0].Rule.ID != "late" {
		t.Errorf("expected only the late rule for login, got %d", len(got))
	}

	t.Run("SnapshotIsStableAcrossReload", func(t *testing.T) {
		before := cat.Snapshot()
		src.set(thresholdRule("late", domain.RuleTypeLogin, "hour", 21, 0.2))
		if _, err := cat.Reload(ctx); err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if before.Len() != 2 {
			t.Errorf("held snapshot changed to %d rules", before.Len())
		}
		if cat.Snapshot().Len() != 1 {
			t.Errorf("expected 1 rule after reload, got %d", cat.Snapshot().Len())
		}
	})

	t.Run("SourceFailureKeepsSnapshot", func(t *testing.T) {
		src.err = domain.ErrStoreUnavailable
		defer func() { src.err = nil }()
		if _, err := cat.Reload(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatalf("expected store error, got %v", err)
		}
		if cat.Snapshot().Len() != 1 {
			t.Errorf("snapshot replaced after failed reload")
		}
	})
}

func TestCatalogConcurrentReadDuringReload(t *testing.T) {
	src := &memorySource{}
	src.set(thresholdRule("late", domain.RuleTypeLogin, "hour", 21, 0.2))
	cat := NewCatalog(src, newCompiler(t), nil)
	ctx := context.Background()
	if _, err := cat.Reload(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	ev := NewEvaluator(time.UTC)
	event := &domain.Event{
		Category:   domain.CategoryLogin,
		SubjectID:  "u1",
		OccurredAt: time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC),
		Login:      &domain.LoginContext{Country: "KE"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if n := len(ev.Evaluate(event, cat.Snapshot(), nil)); n > 1 {
					t.Errorf("unexpected match count %d", n)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if _, err := cat.Reload(ctx); err != nil {
			t.Errorf("reload failed: %v", err)
		}
	}
	wg.Wait()
}
