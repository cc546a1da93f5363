package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "kestrel:"
	counterPrefix = keyPrefix + "counter:"

	redisDialTimeout = 5 * time.Second
)

// windowIncr increments KEYS[1] and sets its expiry (ARGV[1] ms) only when
// the increment created the key.
var windowIncr = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache is a domain.Cache shared by every engine instance. Keys are
// namespaced under "kestrel:".
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache dials addr and fails if the server does not answer a PING.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// Get returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, keyPrefix+key).Err()
}

// IncrementCounter runs the increment as one script so the window expiry is
// set atomically with the first INCR.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return windowIncr.Run(ctx, c.rdb, []string{counterPrefix + key}, window.Milliseconds()).Int64()
}

// Counter reads a counter. Missing or expired counters are 0.
func (c *RedisCache) Counter(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, counterPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
