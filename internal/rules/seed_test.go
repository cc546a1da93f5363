package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// memoryRules is a RuleStore and RuleSource backed by a map.
type memoryRules struct {
	mu    sync.Mutex
	rules map[string]*domain.Rule
	order []string
}

func newMemoryRules() *memoryRules {
	return &memoryRules{rules: make(map[string]*domain.Rule)}
}

func (m *memoryRules) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memoryRules) SaveRule(ctx context.Context, r *domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	c := *r
	m.rules[r.ID] = &c
	return nil
}

func (m *memoryRules) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Rule
	for _, id := range m.order {
		if r := m.rules[id]; r.Active {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

const seedYAML = `rules:
  - id: paste-burst
    name: Excessive paste during registration
    ruleType: onboarding
    method: threshold
    parameters:
      field: paste_count
      threshold: 10
    weight: 0.4
    severity: medium
    autoFlag: true
  - id: lab-night
    name: Lab access at night
    ruleType: access
    method: expression
    parameters:
      expression: 'fields["location_id"] == "lab" && hour >= 20'
    weight: 0.3
    severity: low
  - id: broken
    ruleType: login
    method: threshold
    weight: 0.2
  - id: retired
    ruleType: login
    method: threshold
    parameters:
      field: hour
      threshold: 22
    weight: 0.1
    active: false
`

func writeSeed(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, t.TempDir(), seedYAML)

	rules, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("failed to load seed: %v", err)
	}
	if len(rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(rules))
	}
	if !rules[0].Active || rules[3].Active {
		t.Errorf("expected active default true and explicit false to hold")
	}
	if rules[0].RuleType != domain.RuleTypeOnboarding || rules[0].Method != domain.MethodThreshold {
		t.Errorf("unexpected rule %+v", rules[0])
	}

	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSeederApply(t *testing.T) {
	store := newMemoryRules()
	cat := NewCatalog(store, newCompiler(t), nil)
	dir := t.TempDir()
	path := writeSeed(t, dir, seedYAML)
	seeder := NewSeeder(path, store, cat, nil)
	ctx := context.Background()

	written, err := seeder.Apply(ctx)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if written != 3 {
		t.Errorf("expected 3 rules written, got %d", written)
	}
	if cat.Snapshot().Len() != 2 {
		t.Errorf("expected 2 active rules in catalog, got %d", cat.Snapshot().Len())
	}

	t.Run("UnchangedFileIsNoop", func(t *testing.T) {
		written, err := seeder.Apply(ctx)
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if written != 0 {
			t.Errorf("expected no writes, got %d", written)
		}
		r, _ := store.GetRule(ctx, "paste-burst")
		if r.Version != 1 {
			t.Errorf("expected version 1, got %d", r.Version)
		}
	})

	t.Run("ChangedRuleBumpsVersion", func(t *testing.T) {
		writeSeed(t, dir, `rules:
  - id: paste-burst
    name: Excessive paste during registration
    ruleType: onboarding
    method: threshold
    parameters:
      field: paste_count
      threshold: 6
    weight: 0.4
`)
		if _, err := seeder.Apply(ctx); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		r, _ := store.GetRule(ctx, "paste-burst")
		if r.Version != 2 {
			t.Errorf("expected version 2, got %d", r.Version)
		}
	})
}

func TestSeederWatch(t *testing.T) {
	store := newMemoryRules()
	cat := NewCatalog(store, newCompiler(t), nil)
	dir := t.TempDir()
	path := writeSeed(t, dir, "rules: []\n")
	seeder := NewSeeder(path, store, cat, nil)
	ctx := context.Background()

	if _, err := seeder.Apply(ctx); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	stop, err := seeder.Watch(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer stop()

	writeSeed(t, dir, seedYAML)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cat.Snapshot().Len() == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("catalog not reloaded after file change, has %d rules", cat.Snapshot().Len())
}
