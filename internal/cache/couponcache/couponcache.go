// Package couponcache puts a Redis read-through cache in front of a
// coupon.Repository for code lookups. Only FindByCode is served from the
// cache. Conditional writes always reach the underlying store and drop the
// cached entry afterwards, so a stale entry can only make a validation
// optimistic, never let a redemption through.
package couponcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// DefaultTTL bounds how long a cached coupon may lag behind the store.
const DefaultTTL = 30 * time.Second

const keyPrefix = "storefront:coupon:code:"

var _ coupon.Repository = (*Repository)(nil)

// Repository decorates a coupon.Repository with a Redis cache.
type Repository struct {
	next   coupon.Repository
	client redis.UniversalClient
	ttl    time.Duration
}

// New wraps next. A non-positive ttl selects DefaultTTL.
func New(next coupon.Repository, client redis.UniversalClient, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{next: next, client: client, ttl: ttl}
}

func key(code string) string {
	return keyPrefix + coupon.NormalizeCode(code)
}

// FindByCode serves the coupon from Redis when present and fills the cache
// on a miss. Cache failures degrade to a direct store read.
func (r *Repository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	lg := zctx.From(ctx)
	k := key(code)

	data, err := r.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var c coupon.Coupon
		if uErr := json.Unmarshal(data, &c); uErr == nil {
			return &c, nil
		}
		lg.Warn("Dropping undecodable cached coupon", zap.String("key", k))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("key", k), zap.Error(err))
	}

	c, err := r.next.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if payload, mErr := json.Marshal(c); mErr == nil {
		if sErr := r.client.Set(ctx, k, payload, r.ttl).Err(); sErr != nil {
			lg.Warn("Coupon cache write failed", zap.String("key", k), zap.Error(sErr))
		}
	}
	return c, nil
}

func (r *Repository) invalidate(ctx context.Context, codes ...string) {
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		if code != "" {
			keys = append(keys, key(code))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		zctx.From(ctx).Warn("Coupon cache invalidation failed",
			zap.Strings("keys", keys), zap.Error(err))
	}
}

func (r *Repository) Create(ctx context.Context, c *coupon.Coupon) error {
	if err := r.next.Create(ctx, c); err != nil {
		return err
	}
	r.invalidate(ctx, c.Code)
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.next.Get(ctx, id)
}

func (r *Repository) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int64, error) {
	return r.next.List(ctx, f)
}

func (r *Repository) ListAvailable(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	return r.next.ListAvailable(ctx, now)
}

// Update drops both the previous and the new code from the cache.
func (r *Repository) Update(ctx context.Context, c *coupon.Coupon) (*coupon.Coupon, error) {
	var oldCode string
	if prev, err := r.next.Get(ctx, c.ID); err == nil {
		oldCode = prev.Code
	}
	updated, err := r.next.Update(ctx, c)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, oldCode, updated.Code)
	return updated, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	var code string
	if prev, err := r.next.Get(ctx, id); err == nil {
		code = prev.Code
	}
	if err := r.next.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, code)
	return nil
}

func (r *Repository) Redeem(ctx context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	c, err := r.next.Redeem(ctx, id, userID, now)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, c.Code)
	return c, nil
}

func (r *Repository) Unredeem(ctx context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	c, err := r.next.Unredeem(ctx, id, userID, now)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, c.Code)
	return c, nil
}
