package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CachedStore serves profile reads from a cache in front of a Store.
// Writes go to the Store first; the cache only ever holds a version the
// Store accepted. Every other method passes straight through.
type CachedStore struct {
	domain.Store
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store. A zero ttl disables caching.
func NewCachedStore(store domain.Store, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Store: store, cache: cache, ttl: ttl, logger: logger}
}

func profileKey(userID string, category domain.Category) string {
	return "profile:" + string(category) + ":" + userID
}

// GetProfile reads through the cache. Cache failures fall back to the Store.
func (s *CachedStore) GetProfile(ctx context.Context, userID string, category domain.Category) (*domain.BehaviorProfile, error) {
	if s.ttl <= 0 {
		return s.Store.GetProfile(ctx, userID, category)
	}

	key := profileKey(userID, category)
	if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
		var p domain.BehaviorProfile
		if err := json.Unmarshal(data, &p); err == nil {
			if p.Numeric == nil {
				p.Numeric = make(map[string][]float64)
			}
			return &p, nil
		}
	} else if err != nil {
		s.logger.Debug("profile cache read failed", "user_id", userID, "error", err)
	}

	p, err := s.Store.GetProfile(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, p)
	return p, nil
}

// SaveProfile writes to the Store and refreshes the cached copy. A version
// conflict evicts the cached copy so the retry reads the Store.
func (s *CachedStore) SaveProfile(ctx context.Context, profile *domain.BehaviorProfile) error {
	err := s.Store.SaveProfile(ctx, profile)
	if s.ttl <= 0 {
		return err
	}

	key := profileKey(profile.UserID, profile.Category)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			if derr := s.cache.Delete(ctx, key); derr != nil {
				s.logger.Debug("profile cache evict failed", "user_id", profile.UserID, "error", derr)
			}
		}
		return err
	}
	s.put(ctx, key, profile)
	return nil
}

func (s *CachedStore) put(ctx context.Context, key string, p *domain.BehaviorProfile) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Debug("profile cache write failed", "key", key, "error", err)
	}
}
