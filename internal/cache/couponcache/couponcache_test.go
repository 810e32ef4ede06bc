package couponcache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/cache/couponcache"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/memory"
)

// countingRepo counts lookups that reach the store.
type countingRepo struct {
	*memory.Coupons
	lookups atomic.Int32
}

func (r *countingRepo) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	r.lookups.Add(1)
	return r.Coupons.FindByCode(ctx, code)
}

func setup(t *testing.T) (*couponcache.Repository, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := &countingRepo{Coupons: memory.NewCoupons()}
	return couponcache.New(store, client, time.Minute), store, mr
}

func seed(t *testing.T, repo coupon.Repository, code string) *coupon.Coupon {
	t.Helper()
	ts := time.Now().UTC()
	c := &coupon.Coupon{
		ID:                 uuid.NewString(),
		Code:               code,
		Name:               code,
		DiscountType:       coupon.DiscountFixedAmount,
		DiscountValue:      decimal.NewFromInt(5000),
		MinimumOrderAmount: decimal.Zero,
		PerUserLimit:       1,
		RedeemedBy:         []string{},
		Active:             true,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestFindByCodeReadThrough(t *testing.T) {
	ctx := context.Background()
	cache, store, mr := setup(t)
	c := seed(t, cache, "WELCOME")

	for range 3 {
		got, err := cache.FindByCode(ctx, "welcome")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.True(t, c.DiscountValue.Equal(got.DiscountValue))
	}
	assert.EqualValues(t, 1, store.lookups.Load())
	assert.True(t, mr.Exists("storefront:coupon:code:WELCOME"))

	mr.FastForward(2 * time.Minute)
	_, err := cache.FindByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.lookups.Load())
}

func TestFindByCodeMissIsNotCached(t *testing.T) {
	cache, store, mr := setup(t)

	for range 2 {
		_, err := cache.FindByCode(context.Background(), "NOPE")
		require.ErrorIs(t, err, coupon.ErrCouponNotFound)
	}
	assert.EqualValues(t, 2, store.lookups.Load())
	assert.Empty(t, mr.Keys())
}

func TestWritesInvalidate(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name  string
		write func(t *testing.T, cache *couponcache.Repository, c *coupon.Coupon)
	}{
		{
			name: "redeem",
			write: func(t *testing.T, cache *couponcache.Repository, c *coupon.Coupon) {
				_, err := cache.Redeem(ctx, c.ID, "u1", now)
				require.NoError(t, err)
			},
		},
		{
			name: "unredeem",
			write: func(t *testing.T, cache *couponcache.Repository, c *coupon.Coupon) {
				_, err := cache.Unredeem(ctx, c.ID, "u1", now)
				require.NoError(t, err)
			},
		},
		{
			name: "update",
			write: func(t *testing.T, cache *couponcache.Repository, c *coupon.Coupon) {
				edited := *c
				edited.Name = "Edited"
				_, err := cache.Update(ctx, &edited)
				require.NoError(t, err)
			},
		},
		{
			name: "delete",
			write: func(t *testing.T, cache *couponcache.Repository, c *coupon.Coupon) {
				require.NoError(t, cache.Delete(ctx, c.ID))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, _, mr := setup(t)
			c := seed(t, cache, "SPRING")

			_, err := cache.FindByCode(ctx, c.Code)
			require.NoError(t, err)
			require.True(t, mr.Exists("storefront:coupon:code:SPRING"))

			tt.write(t, cache, c)
			assert.False(t, mr.Exists("storefront:coupon:code:SPRING"))
		})
	}
}

func TestUpdateCodeChangeDropsBothKeys(t *testing.T) {
	ctx := context.Background()
	cache, _, mr := setup(t)
	c := seed(t, cache, "OLDCODE")

	_, err := cache.FindByCode(ctx, "OLDCODE")
	require.NoError(t, err)
	mr.Set("storefront:coupon:code:NEWCODE", "stale")

	edited := *c
	edited.Code = "NEWCODE"
	_, err = cache.Update(ctx, &edited)
	require.NoError(t, err)

	assert.False(t, mr.Exists("storefront:coupon:code:OLDCODE"))
	assert.False(t, mr.Exists("storefront:coupon:code:NEWCODE"))
}

func TestRedisDownFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	cache, store, mr := setup(t)
	c := seed(t, cache, "OUTAGE")
	mr.Close()

	got, err := cache.FindByCode(ctx, "OUTAGE")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.EqualValues(t, 1, store.lookups.Load())

	_, err = cache.Redeem(ctx, c.ID, "", time.Now().UTC())
	require.NoError(t, err)
}
