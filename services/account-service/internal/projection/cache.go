package projection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds projection rows in Redis keyed by account id.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, prefix: "account_projection:"}
}

func (c *Cache) Get(ctx context.Context, accountID string) (AccountProjection, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return AccountProjection{}, false, nil
	}
	if err != nil {
		return AccountProjection{}, false, err
	}
	var p AccountProjection
	if err := json.Unmarshal(raw, &p); err != nil {
		return AccountProjection{}, false, err
	}
	return p, true, nil
}

func (c *Cache) Set(ctx context.Context, p AccountProjection) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+p.AccountID, raw, c.ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, accountID string) error {
	return c.rdb.Del(ctx, c.prefix+accountID).Err()
}

// CachedStore is a read-through cache in front of a Store. Cache failures are
// logged and fall back to the underlying store: the cache is an optimization,
// never the source of truth.
type CachedStore struct {
	store  Store
	cache  *Cache
	logger *slog.Logger
}

func NewCachedStore(store Store, cache *Cache, logger *slog.Logger) *CachedStore {
	return &CachedStore{store: store, cache: cache, logger: logger}
}

func (s *CachedStore) GetByID(ctx context.Context, accountID string) (AccountProjection, error) {
	if p, ok, err := s.cache.Get(ctx, accountID); err != nil {
		s.logger.Warn("projection cache read failed", "err", err, "account_id", accountID)
	} else if ok {
		return p, nil
	}

	p, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return AccountProjection{}, err
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.Warn("projection cache write failed", "err", err, "account_id", accountID)
	}
	return p, nil
}

func (s *CachedStore) Upsert(ctx context.Context, p AccountProjection) error {
	if err := s.store.Upsert(ctx, p); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.Warn("projection cache write failed", "err", err, "account_id", p.AccountID)
	}
	return nil
}

func (s *CachedStore) UpdateVersioned(ctx context.Context, p AccountProjection, expected int64) error {
	if err := s.store.UpdateVersioned(ctx, p, expected); err != nil {
		// Stale entries must not outlive a failed write decision.
		if delErr := s.cache.Delete(ctx, p.AccountID); delErr != nil {
			s.logger.Warn("projection cache invalidation failed", "err", delErr, "account_id", p.AccountID)
		}
		return err
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.Warn("projection cache write failed", "err", err, "account_id", p.AccountID)
	}
	return nil
}
