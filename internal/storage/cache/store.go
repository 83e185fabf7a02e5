// Package cache decorates an EndpointStore with a read-aside cache of each
// user's targets.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns ErrMiss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedStore caches FindAllByUser and invalidates on every write.
// FindByDevice always reads through: the reconciler depends on it being
// current.
type CachedStore struct {
	realStore push.EndpointStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedStore(realStore push.EndpointStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedStore"),
	}
}

// --- READ PATHS ---

func (s *CachedStore) FindByDevice(ctx context.Context, deviceID string) (*push.PushTarget, error) {
	return s.realStore.FindByDevice(ctx, deviceID)
}

func (s *CachedStore) FindAllByUser(ctx context.Context, userID string) ([]push.PushTarget, error) {
	key := CacheKey(userID)
	var cached []push.PushTarget
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		if cached == nil {
			cached = make([]push.PushTarget, 0)
		}
		return cached, nil
	}

	fresh, err := s.realStore.FindAllByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis outage falls back to the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Failed to populate cache", "user", userID, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedStore) Insert(ctx context.Context, target push.PushTarget) error {
	if err := s.realStore.Insert(ctx, target); err != nil {
		return err
	}
	s.invalidate(ctx, target.UserID)
	return nil
}

// DeleteByDevice resolves the owner first so the right user's entry is
// invalidated.
func (s *CachedStore) DeleteByDevice(ctx context.Context, deviceID string) error {
	existing, err := s.realStore.FindByDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.realStore.DeleteByDevice(ctx, deviceID); err != nil {
		return err
	}
	if existing != nil {
		s.invalidate(ctx, existing.UserID)
	}
	return nil
}

// invalidate drops the user's entry. The write it follows has already been
// committed, so a Redis failure is logged and the entry expires with its TTL.
func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Del(ctx, CacheKey(userID)); err != nil {
		s.logger.Warn("Failed to invalidate cache; entry stays until TTL", "user", userID, "ttl", s.ttl, "err", err)
	}
}

// CacheKey returns the Redis key holding a user's targets.
func CacheKey(userID string) string {
	return "push:targets:" + userID
}
