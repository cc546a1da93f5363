package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Cache types accepted in CacheConfig.Type.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

const defaultL1TTL = 5 * time.Minute

// New returns the cache named by cfg.Type. Redis with EnableTwoPhase is
// fronted by a local LRU.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case TypeRedis:
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return nil, fmt.Errorf("%w: unsupported cache type %q", domain.ErrInvalidInput, cfg.Type)
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2) and writes to
// both. Counters skip L1 so every instance shares one count.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewTwoPhaseCache connects the Redis tier described by cfg.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	l2, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), l2, cfg.LocalTTL), nil
}

func newTwoPhase(l1 *LRUCache, l2 *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = defaultL1TTL
	}
	return &TwoPhaseCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.l1.Get(ctx, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.l2.Get(ctx, key)
	if err != nil || val == nil {
		return val, err
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL)
	return val, nil
}

// Set writes L1 then L2. The L1 copy never outlives ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.l1.Delete(ctx, key)
	return c.l2.Delete(ctx, key)
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.l2.IncrementCounter(ctx, key, window)
}

func (c *TwoPhaseCache) Counter(ctx context.Context, key string) (int64, error) {
	return c.l2.Counter(ctx, key)
}

// Ping reports the Redis tier; L1 is always available.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("redis tier: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}

// Stats reports the L1 occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.l1.Stats()
}

var (
	_ domain.Cache = (*LRUCache)(nil)
	_ domain.Cache = (*RedisCache)(nil)
	_ domain.Cache = (*TwoPhaseCache)(nil)
)
