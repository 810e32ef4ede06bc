//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/paging"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/mongo"
)

var testDB *mongodrv.Database

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start mongo container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mongo endpoint: %v\n", err)
		os.Exit(1)
	}
	client, err := mongo.Connect(ctx, endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	testDB = client.Database("storefront_test")
	if err := mongo.EnsureIndexes(ctx, testDB, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "indexes: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = client.Disconnect(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func now() time.Time {
	// Mongo stores milliseconds.
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newCoupon(code string, limit *int, perUser int) *coupon.Coupon {
	ts := now()
	return &coupon.Coupon{
		ID:                 uuid.NewString(),
		Code:               code,
		Name:               code,
		DiscountType:       coupon.DiscountFixedAmount,
		DiscountValue:      decimal.NewFromInt(10000),
		MinimumOrderAmount: decimal.Zero,
		UsageLimit:         limit,
		PerUserLimit:       perUser,
		RedeemedBy:         []string{},
		Active:             true,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
}

func TestCouponRedeemConcurrentLastUse(t *testing.T) {
	ctx := context.Background()
	repo := mongo.NewCouponRepository(testDB)
	limit := 1
	c := newCoupon("RACE"+uuid.NewString()[:8], &limit, 1)
	require.NoError(t, repo.Create(ctx, c))

	const workers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Redeem(ctx, c.ID, "", now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	for _, err := range errs {
		assert.ErrorIs(t, err, coupon.ErrPreconditionFailed)
	}
	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
}

func TestCouponPerUserLimitAndUnredeem(t *testing.T) {
	ctx := context.Background()
	repo := mongo.NewCouponRepository(testDB)
	c := newCoupon("USER"+uuid.NewString()[:8], nil, 2)
	require.NoError(t, repo.Create(ctx, c))

	for range 2 {
		_, err := repo.Redeem(ctx, c.ID, "user-1", now())
		require.NoError(t, err)
	}
	_, err := repo.Redeem(ctx, c.ID, "user-1", now())
	assert.ErrorIs(t, err, coupon.ErrPreconditionFailed)

	got, err := repo.Redeem(ctx, c.ID, "user-2", now())
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-1", "user-2"}, got.RedeemedBy)

	got, err = repo.Unredeem(ctx, c.ID, "user-1", now())
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.Equal(t, []string{"user-1", "user-2"}, got.RedeemedBy)

	for range 5 {
		got, err = repo.Unredeem(ctx, c.ID, "user-2", now())
		require.NoError(t, err)
	}
	assert.Zero(t, got.UsageCount)
	assert.Equal(t, []string{"user-1"}, got.RedeemedBy)

	_, err = repo.Unredeem(ctx, uuid.NewString(), "", now())
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)
}

func TestCouponUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := mongo.NewCouponRepository(testDB)
	limit := 5
	c := newCoupon("EDIT"+uuid.NewString()[:8], &limit, 1)
	require.NoError(t, repo.Create(ctx, c))
	assert.ErrorIs(t, repo.Create(ctx, newCoupon(c.Code, nil, 1)), coupon.ErrDuplicateCode)

	_, err := repo.Redeem(ctx, c.ID, "user-1", now())
	require.NoError(t, err)

	lower := 0
	c.UsageLimit = &lower
	_, err = repo.Update(ctx, c)
	assert.ErrorIs(t, err, coupon.ErrPreconditionFailed)

	c.UsageLimit = &limit
	c.Name = "Renamed"
	c.UsageCount = 0
	updated, err := repo.Update(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 1, updated.UsageCount)

	assert.ErrorIs(t, repo.Delete(ctx, c.ID), coupon.ErrPreconditionFailed)

	unused := newCoupon("DEL"+uuid.NewString()[:8], nil, 1)
	require.NoError(t, repo.Create(ctx, unused))
	require.NoError(t, repo.Delete(ctx, unused.ID))
	_, err = repo.Get(ctx, unused.ID)
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := mongo.NewOrderRepository(testDB)
	ts := now()

	o := &order.Order{
		ID:          uuid.NewString(),
		Number:      "ORD-" + uuid.NewString()[:8],
		AccessToken: uuid.NewString(),
		UserID:      "user-" + uuid.NewString()[:8],
		Items: []order.LineItem{
			{ProductID: "P1", Name: "Rice cooker", Price: decimal.NewFromInt(100000), Quantity: 2},
		},
		Subtotal:      decimal.NewFromInt(200000),
		ShippingFee:   decimal.NewFromInt(30000),
		Total:         decimal.NewFromInt(230000),
		AmountDue:     decimal.NewFromInt(230000),
		Customer:      order.Customer{FullName: "A", Phone: "1", Province: "P", District: "D", Ward: "W", Address: "X"},
		PaymentMethod: order.PaymentCOD,
		Status:        order.StatusPending,
		History:       order.NewHistory(order.StatusPending, ts, ""),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	require.NoError(t, repo.Create(ctx, o))

	dup := *o
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.Create(ctx, &dup), order.ErrDuplicateIdentity)

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(o.Total))
	assert.Equal(t, o.History.Entries(), got.History.Entries())

	updated, err := repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.Transition(order.StatusPending, order.StatusPaid, now(), "admin-1"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, updated.Status)
	assert.Equal(t, 2, updated.History.Len())

	_, err = repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.Transition(order.StatusPending, order.StatusCancelled, now(), "admin-1"))
	assert.ErrorIs(t, err, order.ErrPreconditionFailed)

	archived, err := repo.Archive(ctx, o.ID, order.Deletion{At: now(), By: "admin-1", Reason: "test"})
	require.NoError(t, err)
	assert.NotNil(t, archived.DeletedAt)
	_, err = repo.Archive(ctx, o.ID, order.Deletion{At: now(), By: "admin-1", Reason: "again"})
	assert.ErrorIs(t, err, order.ErrPreconditionFailed)

	_, err = repo.UpdateStatus(ctx, o.ID, order.StatusPaid, order.Transition(order.StatusPaid, order.StatusProcessing, now(), "admin-1"))
	assert.ErrorIs(t, err, order.ErrPreconditionFailed)

	visible, total, err := repo.List(ctx, order.ListFilter{Page: paging.Request{Page: 1, Limit: 10}, UserID: o.UserID})
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.Zero(t, total)

	all, total, err := repo.List(ctx, order.ListFilter{Page: paging.Request{Page: 1, Limit: 10}, UserID: o.UserID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, int64(1), total)
}

func TestProductResolver(t *testing.T) {
	ctx := context.Background()
	r := mongo.NewProductResolver(testDB)
	id := "P-" + uuid.NewString()[:8]
	require.NoError(t, r.UpsertProducts(ctx, []product.Snapshot{
		{ID: id, Name: "Kettle", Price: decimal.RequireFromString("45000.50"), Image: "k.jpg"},
	}))

	got, err := r.Resolve(ctx, []string{id, "missing"})
	require.NoError(t, err)
	require.Contains(t, got, id)
	assert.NotContains(t, got, "missing")
	assert.True(t, decimal.RequireFromString("45000.50").Equal(got[id].Price))
}
