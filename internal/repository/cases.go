package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const caseColumns = `
	id, subject_id, category, risk_score, confidence, indicators, rules, decision,
	action_taken, requires_manual_review, pending_override, source_ip, occurred_at,
	status, reviewer_id, notes, resolved_at, created_at, updated_at
`

// DefaultCaseLimit caps ListDetectionCases when no limit is given.
const DefaultCaseLimit = 100

// SaveDetectionCase inserts a new case.
func (r *SQLRepository) SaveDetectionCase(ctx context.Context, c *domain.DetectionCase) error {
	if c == nil || c.ID == "" || c.SubjectID == "" {
		return fmt.Errorf("%w: case id and subject are required", domain.ErrInvalidInput)
	}

	indicators, err := json.Marshal(c.Indicators)
	if err != nil {
		return fmt.Errorf("failed to encode indicators: %w", err)
	}
	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rule snapshots: %w", err)
	}

	var resolved sql.NullTime
	if c.ResolvedAt != nil {
		resolved = sql.NullTime{Time: *c.ResolvedAt, Valid: true}
	}

	query := `
		INSERT INTO detection_cases (` + caseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.SubjectID, string(c.Category), c.RiskScore, c.Confidence,
		string(indicators), string(rules), string(c.Decision), string(c.ActionTaken),
		boolToInt(c.RequiresManualReview), boolToInt(c.PendingOverride), c.SourceIP,
		c.OccurredAt.UTC(), string(c.Status), c.ReviewerID, c.Notes, resolved,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return err
}

// GetDetectionCase retrieves a case by id.
func (r *SQLRepository) GetDetectionCase(ctx context.Context, caseID string) (*domain.DetectionCase, error) {
	query := `SELECT ` + caseColumns + ` FROM detection_cases WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// ListDetectionCases returns cases newest first.
func (r *SQLRepository) ListDetectionCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.DetectionCase, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > DefaultCaseLimit {
		limit = DefaultCaseLimit
	}

	query := `SELECT ` + caseColumns + ` FROM detection_cases`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.DetectionCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpdateCaseStatus moves a case from one status to the next. The update is
// a compare-and-set on the current status so concurrent reviewers cannot
// both win.
func (r *SQLRepository) UpdateCaseStatus(ctx context.Context, caseID string, from, to domain.CaseStatus, reviewerID, notes string, at time.Time) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	var resolved sql.NullTime
	if to.Terminal() {
		resolved = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	query := `
		UPDATE detection_cases
		SET status = ?, reviewer_id = ?, notes = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		string(to), reviewerID, notes, resolved, at.UTC(), caseID, string(from))
	if err != nil {
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := r.GetDetectionCase(ctx, caseID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: case %s is %s, not %s", domain.ErrInvalidTransition, caseID, current.Status, from)
}

// CountDetectionsByIP counts cases raised from ip since the given time.
func (r *SQLRepository) CountDetectionsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	if ip == "" {
		return 0, nil
	}

	query := `
		SELECT COUNT(*) FROM detection_cases
		WHERE source_ip = ? AND created_at >= ?
	`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), ip, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

func scanCase(s scanner) (*domain.DetectionCase, error) {
	var c domain.DetectionCase
	var category, indicators, rules, decision, action, status string
	var review, pending int
	var sourceIP, reviewer, notes sql.NullString
	var resolved sql.NullTime

	if err := s.Scan(
		&c.ID, &c.SubjectID, &category, &c.RiskScore, &c.Confidence, &indicators, &rules, &decision,
		&action, &review, &pending, &sourceIP, &c.OccurredAt,
		&status, &reviewer, &notes, &resolved, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.Category = domain.Category(category)
	c.Decision = domain.Action(decision)
	c.ActionTaken = domain.CaseAction(action)
	c.Status = domain.CaseStatus(status)
	c.RequiresManualReview = review == 1
	c.PendingOverride = pending == 1
	c.SourceIP = sourceIP.String
	c.ReviewerID = reviewer.String
	c.Notes = notes.String
	if resolved.Valid {
		t := resolved.Time
		c.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(indicators), &c.Indicators); err != nil {
		return nil, fmt.Errorf("failed to parse indicators for case %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(rules), &c.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules for case %s: %w", c.ID, err)
	}
	return &c, nil
}
