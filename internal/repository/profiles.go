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

// GetProfile loads the profile for (userID, category).
func (r *SQLRepository) GetProfile(ctx context.Context, userID string, category domain.Category) (*domain.BehaviorProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT version, data FROM profiles
		WHERE user_id = ? AND category = ?
	`

	var version int64
	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, string(category)).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p domain.BehaviorProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s/%s: %w", userID, category, err)
	}
	p.Version = version
	if p.Numeric == nil {
		p.Numeric = make(map[string][]float64)
	}
	return &p, nil
}

// SaveProfile writes profile if the stored version still equals
// profile.Version, then advances profile.Version. Version 0 means the
// profile has never been stored.
func (r *SQLRepository) SaveProfile(ctx context.Context, profile *domain.BehaviorProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: profile with userID is required", domain.ErrInvalidInput)
	}

	next := profile.Version + 1
	stored := *profile
	stored.Version = next
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	now := time.Now().UTC()

	var res sql.Result
	if profile.Version == 0 {
		query := `
			INSERT INTO profiles (user_id, category, version, data, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, category) DO NOTHING
		`
		res, err = r.db.ExecContext(ctx, r.rebind(query),
			profile.UserID, string(profile.Category), next, string(data), now)
	} else {
		query := `
			UPDATE profiles SET version = ?, data = ?, updated_at = ?
			WHERE user_id = ? AND category = ? AND version = ?
		`
		res, err = r.db.ExecContext(ctx, r.rebind(query),
			next, string(data), now, profile.UserID, string(profile.Category), profile.Version)
	}
	if err != nil {
		return err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s at version %d", domain.ErrVersionConflict, profile.UserID, profile.Category, profile.Version)
	}
	profile.Version = next
	return nil
}
