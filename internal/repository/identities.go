package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RecordIdentity stores that userID registered value for field.
func (r *SQLRepository) RecordIdentity(ctx context.Context, userID, field, value string, at time.Time) error {
	if userID == "" || field == "" || value == "" {
		return fmt.Errorf("%w: userID, field and value are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO identities (field, value, user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (field, value, user_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), field, value, userID, at.UTC())
	return err
}

// FindDuplicateIdentity returns the other users that registered value.
func (r *SQLRepository) FindDuplicateIdentity(ctx context.Context, field, value, excludeUserID string) ([]string, error) {
	if value == "" {
		return nil, nil
	}

	query := `
		SELECT DISTINCT user_id FROM identities
		WHERE field = ? AND value = ? AND user_id <> ?
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), field, value, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// RecordDevice stores that fingerprint was used by userID at the given time.
func (r *SQLRepository) RecordDevice(ctx context.Context, fingerprint, userID string, at time.Time) error {
	if fingerprint == "" || userID == "" {
		return fmt.Errorf("%w: fingerprint and userID are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO devices (fingerprint, user_id, seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT (fingerprint, user_id) DO UPDATE SET seen_at = excluded.seen_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), fingerprint, userID, at.UTC())
	return err
}

// CountAccountsByDevice counts distinct accounts other than excludeUserID
// seen on fingerprint since the given time.
func (r *SQLRepository) CountAccountsByDevice(ctx context.Context, fingerprint, excludeUserID string, since time.Time) (int, error) {
	if fingerprint == "" {
		return 0, nil
	}

	query := `
		SELECT COUNT(DISTINCT user_id) FROM devices
		WHERE fingerprint = ? AND user_id <> ? AND seen_at >= ?
	`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), fingerprint, excludeUserID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count device accounts: %w", err)
	}
	return count, nil
}
