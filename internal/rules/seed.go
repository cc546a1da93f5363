package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// RuleStore is the part of the Store the seeder writes through.
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*domain.Rule, error)
	SaveRule(ctx context.Context, rule *domain.Rule) error
}

// seedFile is the on-disk layout of a rules seed file.
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	ID                   string         `yaml:"id"`
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description"`
	RuleType             string         `yaml:"ruleType"`
	Method               string         `yaml:"method"`
	Parameters           map[string]any `yaml:"parameters"`
	Weight               float64        `yaml:"weight"`
	Severity             string         `yaml:"severity"`
	AutoFlag             bool           `yaml:"autoFlag"`
	AutoBlock            bool           `yaml:"autoBlock"`
	RequiresManualReview bool           `yaml:"requiresManualReview"`
	Active               *bool          `yaml:"active"`
}

// LoadSeedFile parses a YAML rules file. Rules are active unless the file
// says otherwise.
func LoadSeedFile(path string) ([]*domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}

	out := make([]*domain.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		out = append(out, &domain.Rule{
			ID:                   r.ID,
			Name:                 r.Name,
			Description:          r.Description,
			RuleType:             domain.RuleType(r.RuleType),
			Method:               domain.DetectionMethod(r.Method),
			Parameters:           r.Parameters,
			Weight:               r.Weight,
			Severity:             domain.Severity(r.Severity),
			AutoFlag:             r.AutoFlag,
			AutoBlock:            r.AutoBlock,
			RequiresManualReview: r.RequiresManualReview,
			Active:               active,
		})
	}
	return out, nil
}

// Seeder upserts a rules file into the Store and reloads the catalog.
type Seeder struct {
	path    string
	store   RuleStore
	catalog *Catalog
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewSeeder creates a seeder for the file at path.
func NewSeeder(path string, store RuleStore, catalog *Catalog, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		path:    filepath.Clean(path),
		store:   store,
		catalog: catalog,
		logger:  logger,
	}
}

// Apply writes every changed rule in the file to the Store, bumping its
// version, then reloads the catalog. Invalid rules are logged and skipped.
// It returns the number of rules written.
func (s *Seeder) Apply(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := LoadSeedFile(s.path)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, rule := range rules {
		if err := s.catalog.Validate(rule); err != nil {
			s.logger.Warn("seed rule rejected", "rule_id", rule.ID, "error", err)
			continue
		}

		existing, err := s.store.GetRule(ctx, rule.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rule.Version = 1
		case err != nil:
			return written, fmt.Errorf("failed to read rule %s: %w", rule.ID, err)
		default:
			if sameDefinition(existing, rule) {
				continue
			}
			rule.Version = existing.Version + 1
			rule.CreatedAt = existing.CreatedAt
		}

		now := time.Now().UTC()
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
		if err := s.store.SaveRule(ctx, rule); err != nil {
			return written, fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
		}
		written++
	}

	if _, err := s.catalog.Reload(ctx); err != nil {
		return written, err
	}
	s.logger.Info("rules seeded", "path", s.path, "written", written)
	return written, nil
}

// Watch re-applies the file whenever it changes. The directory is watched
// so editors that replace the file by rename are picked up. Call the
// returned stop function to clean up.
func (s *Seeder) Watch(ctx context.Context) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := s.Apply(ctx); err != nil {
						s.logger.Error("failed to apply rules file", "path", s.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("rules watcher error", "error", err)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// sameDefinition compares the administrator editable fields of two rules.
// Parameters are compared by their JSON form so YAML integers equal the
// float64 values read back from the Store.
func sameDefinition(a, b *domain.Rule) bool {
	if a.Name != b.Name || a.Description != b.Description || a.RuleType != b.RuleType ||
		a.Method != b.Method || a.Weight != b.Weight || a.Severity != b.Severity ||
		a.AutoFlag != b.AutoFlag || a.AutoBlock != b.AutoBlock ||
		a.RequiresManualReview != b.RequiresManualReview || a.Active != b.Active {
		return false
	}
	if len(a.Parameters) == 0 && len(b.Parameters) == 0 {
		return true
	}
	pa, errA := json.Marshal(a.Parameters)
	pb, errB := json.Marshal(b.Parameters)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(pa, pb)
}
