package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const ruleColumns = `
	id, name, description, rule_type, method, parameters, weight, severity,
	auto_flag, auto_block, requires_manual_review, active, version, created_at, updated_at
`

// SaveRule upserts a rule by id. Callers own the version number.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule with id is required", domain.ErrInvalidInput)
	}

	params, err := json.Marshal(rule.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode rule parameters: %w", err)
	}

	now := time.Now().UTC()
	created := rule.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := rule.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	version := rule.Version
	if version <= 0 {
		version = 1
	}

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rule_type = excluded.rule_type,
			method = excluded.method,
			parameters = excluded.parameters,
			weight = excluded.weight,
			severity = excluded.severity,
			auto_flag = excluded.auto_flag,
			auto_block = excluded.auto_block,
			requires_manual_review = excluded.requires_manual_review,
			active = excluded.active,
			version = excluded.version,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.RuleType), string(rule.Method),
		string(params), rule.Weight, string(rule.Severity),
		boolToInt(rule.AutoFlag), boolToInt(rule.AutoBlock), boolToInt(rule.RequiresManualReview),
		boolToInt(rule.Active), version, created, updated,
	)
	if err != nil {
		return err
	}
	rule.Version = version
	rule.CreatedAt = created
	rule.UpdatedAt = updated
	return nil
}

// GetRule retrieves a rule by id, active or not.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// GetActiveRules returns active rules in catalog order.
func (r *SQLRepository) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = 1 ORDER BY created_at, id`)
}

// ListRules returns every rule, including disabled ones.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at, id`)
}

// SetRuleActive enables or disables a rule and bumps its version.
// Rules are never deleted.
func (r *SQLRepository) SetRuleActive(ctx context.Context, ruleID string, active bool) error {
	query := `
		UPDATE rules
		SET active = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query), boolToInt(active), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var description sql.NullString
	var ruleType, method, params, severity string
	var autoFlag, autoBlock, review, active int

	if err := s.Scan(
		&rule.ID, &rule.Name, &description, &ruleType, &method, &params, &rule.Weight, &severity,
		&autoFlag, &autoBlock, &review, &active, &rule.Version, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.RuleType = domain.RuleType(ruleType)
	rule.Method = domain.DetectionMethod(method)
	rule.Severity = domain.Severity(severity)
	rule.AutoFlag = autoFlag == 1
	rule.AutoBlock = autoBlock == 1
	rule.RequiresManualReview = review == 1
	rule.Active = active == 1
	if err := json.Unmarshal([]byte(params), &rule.Parameters); err != nil {
		return nil, fmt.Errorf("failed to parse parameters for rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}
