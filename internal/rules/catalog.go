// Package rules holds the rule catalog and evaluates compiled rules against
// events.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// RuleSource supplies the active rules on reload.
type RuleSource interface {
	GetActiveRules(ctx context.Context) ([]*domain.Rule, error)
}

// Snapshot is an immutable set of compiled rules grouped by rule type.
// Within a type, rules keep the order the source returned them in.
type Snapshot struct {
	byType map[domain.RuleType][]*CompiledRule
	count  int
}

// ForType returns the compiled rules of rule type t.
func (s *Snapshot) ForType(t domain.RuleType) []*CompiledRule {
	if s == nil {
		return nil
	}
	return s.byType[t]
}

// Len returns the number of compiled rules.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Rules returns every compiled rule's definition.
func (s *Snapshot) Rules() []*domain.Rule {
	if s == nil {
		return nil
	}
	out := make([]*domain.Rule, 0, s.count)
	for _, t := range domain.AllRuleTypes() {
		for _, c := range s.byType[t] {
			out = append(out, c.Rule)
		}
	}
	return out
}

// ReloadResult summarizes a catalog reload.
type ReloadResult struct {
	Loaded   int
	Rejected []*domain.ConfigurationError
}

// Catalog serves compiled rule snapshots. Reload builds a new snapshot and
// swaps it in atomically; readers never lock.
type Catalog struct {
	source   RuleSource
	compiler *Compiler
	logger   *slog.Logger
	snap     atomic.Pointer[Snapshot]
}

// NewCatalog creates an empty catalog. Call Reload to populate it.
func NewCatalog(source RuleSource, compiler *Compiler, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		source:   source,
		compiler: compiler,
		logger:   logger,
	}
	c.snap.Store(&Snapshot{byType: map[domain.RuleType][]*CompiledRule{}})
	return c
}

// Snapshot returns the current compiled rule set.
func (c *Catalog) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Validate runs the load time checks without touching the catalog.
func (c *Catalog) Validate(rule *domain.Rule) error {
	_, err := c.compiler.Compile(rule)
	return err
}

// Reload fetches the active rules and swaps in a new snapshot. Malformed
// rules are skipped and logged; the rest load. A source failure leaves the
// current snapshot in place.
func (c *Catalog) Reload(ctx context.Context) (*ReloadResult, error) {
	rules, err := c.source.GetActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	snap, result := c.build(rules)
	c.snap.Store(snap)
	metrics.RulesLoaded.Set(float64(result.Loaded))
	metrics.RulesRejected.Add(float64(len(result.Rejected)))

	c.logger.Info("rule catalog reloaded", "loaded", result.Loaded, "rejected", len(result.Rejected))
	return result, nil
}

func (c *Catalog) build(rules []*domain.Rule) (*Snapshot, *ReloadResult) {
	snap := &Snapshot{byType: make(map[domain.RuleType][]*CompiledRule)}
	result := &ReloadResult{}

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		compiled, err := c.compiler.Compile(rule)
		if err != nil {
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				cfgErr = domain.NewConfigurationError(rule.ID, "%v", err)
			}
			result.Rejected = append(result.Rejected, cfgErr)
			c.logger.Warn("rule rejected", "rule_id", rule.ID, "error", cfgErr.Reason)
			continue
		}
		snap.byType[rule.RuleType] = append(snap.byType[rule.RuleType], compiled)
		snap.count++
	}
	result.Loaded = snap.count
	return snap, result
}
