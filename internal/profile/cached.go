package profile

import (
	"context"
	"log/slog"

	"smartpocket/internal/cache"
	"smartpocket/internal/core"
)

// CachedStore is a read-through cache in front of another Store.
// Writes go to the underlying store first and only then refresh the cache.
type CachedStore struct {
	inner Store
	cache cache.Cache[core.BudgetSession]
}

func NewCachedStore(inner Store, c cache.Cache[core.BudgetSession]) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

func (s *CachedStore) Load(ctx context.Context, username string) (core.BudgetSession, error) {
	if sess, ok := s.cache.Get(username); ok {
		slog.DebugContext(ctx, "Profile cache hit", "username", username)
		return sess, nil
	}
	sess, err := s.inner.Load(ctx, username)
	if err != nil {
		return sess, err
	}
	s.cache.Set(username, sess)
	return sess, nil
}

func (s *CachedStore) Save(ctx context.Context, username string, sess core.BudgetSession) error {
	if err := s.inner.Save(ctx, username, sess); err != nil {
		// The durable copy is now older than anything we might have cached.
		s.cache.Delete(username)
		return err
	}
	s.cache.Set(username, sess)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, username string) error {
	s.cache.Delete(username)
	return s.inner.Delete(ctx, username)
}
