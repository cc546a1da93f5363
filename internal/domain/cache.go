package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU in front of Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a counter and returns the new value.
	// The window is applied as the counter's expiry when it is created.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Counter reads a counter without changing it. Missing counters are 0.
	Counter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `koanf:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `koanf:"local_max_size"`
	LocalTTL     time.Duration `koanf:"local_ttl"`

	// Redis settings
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `koanf:"enable_two_phase"`

	// ProfileTTL is how long profiles stay cached in front of the Store.
	// Zero disables profile caching.
	ProfileTTL time.Duration `koanf:"profile_ttl"`
}
