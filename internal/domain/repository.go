// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine. Implementations must be
// safe for concurrent use.
type Store interface {
	// Profiles. GetProfile returns ErrNotFound for a first time subject.
	// SaveProfile returns ErrVersionConflict when the stored version is not
	// the one the profile was read at.
	GetProfile(ctx context.Context, userID string, category Category) (*BehaviorProfile, error)
	SaveProfile(ctx context.Context, profile *BehaviorProfile) error

	// Identity observations used by the onboarding duplicate check.
	// FindDuplicateIdentity returns the user ids, other than excludeUserID,
	// that registered value for field.
	FindDuplicateIdentity(ctx context.Context, field, value, excludeUserID string) ([]string, error)
	RecordIdentity(ctx context.Context, userID, field, value string, at time.Time) error
	// CountAccountsByDevice counts accounts other than excludeUserID seen
	// on fingerprint since the given time.
	CountAccountsByDevice(ctx context.Context, fingerprint, excludeUserID string, since time.Time) (int, error)
	RecordDevice(ctx context.Context, fingerprint, userID string, at time.Time) error

	// Rules
	GetActiveRules(ctx context.Context) ([]*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	SaveRule(ctx context.Context, rule *Rule) error
	SetRuleActive(ctx context.Context, ruleID string, active bool) error

	// Detection cases. UpdateCaseStatus only applies when the stored status
	// is still from, and returns ErrInvalidTransition otherwise.
	SaveDetectionCase(ctx context.Context, c *DetectionCase) error
	GetDetectionCase(ctx context.Context, caseID string) (*DetectionCase, error)
	ListDetectionCases(ctx context.Context, filter CaseFilter) ([]*DetectionCase, error)
	UpdateCaseStatus(ctx context.Context, caseID string, from, to CaseStatus, reviewerID, notes string, at time.Time) error
	CountDetectionsByIP(ctx context.Context, ip string, since time.Time) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
