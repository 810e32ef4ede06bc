package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/paging"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

// --- Test doubles ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []order.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e order.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []order.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]order.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// failingOrders fails every insert.
type failingOrders struct {
	*memory.Orders
	err error
}

func (f *failingOrders) Create(context.Context, *order.Order) error { return f.err }

// collidingOrders reports a duplicate identity for the first n inserts.
type collidingOrders struct {
	*memory.Orders
	n int
}

func (c *collidingOrders) Create(ctx context.Context, o *order.Order) error {
	if c.n > 0 {
		c.n--
		return order.ErrDuplicateIdentity
	}
	return c.Orders.Create(ctx, o)
}

// racingOrders changes the stored status right before the conditional write,
// as a concurrent request would.
type racingOrders struct {
	*memory.Orders
	to order.Status
}

func (r *racingOrders) UpdateStatus(ctx context.Context, id string, from order.Status, entry order.HistoryEntry) (*order.Order, error) {
	if _, err := r.Orders.UpdateStatus(ctx, id, from, order.Transition(from, r.to, entry.At, "other-admin")); err != nil {
		return nil, err
	}
	return r.Orders.UpdateStatus(ctx, id, from, entry)
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	productP1 = "P1"
	productP2 = "P2"
)

type fixture struct {
	manager *order.Manager
	catalog *memory.Catalog
	orders  *memory.Orders
	ledger  *coupon.Ledger
	events  *recordingPublisher
}

func newFixture(t *testing.T, repo order.Repository, opts ...order.Option) *fixture {
	t.Helper()
	catalog := memory.NewCatalog(
		product.Snapshot{ID: productP1, Name: "Rice cooker", Price: decimal.NewFromInt(100000), Image: "p1.jpg"},
		product.Snapshot{ID: productP2, Name: "Kettle", Price: decimal.NewFromInt(45000), Image: "p2.jpg"},
	)
	orders := memory.NewOrders()
	if repo == nil {
		repo = orders
	}
	clock := func() time.Time { return testNow }
	ledger, err := coupon.NewLedger(memory.NewCoupons(), coupon.WithClock(clock))
	require.NoError(t, err)
	events := &recordingPublisher{}

	opts = append([]order.Option{
		order.WithClock(clock),
		order.WithPromotions(ledger),
		order.WithPublisher(events),
	}, opts...)
	m, err := order.NewManager(catalog, repo, opts...)
	require.NoError(t, err)
	return &fixture{manager: m, catalog: catalog, orders: orders, ledger: ledger, events: events}
}

func validCustomer() order.Customer {
	return order.Customer{
		FullName: " Nguyen Van A ",
		Phone:    "0901234567",
		Province: "Ho Chi Minh",
		District: "District 1",
		Ward:     "Ben Nghe",
		Address:  "12 Le Loi",
	}
}

func createRequest(method string, items ...order.LineRequest) order.CreateRequest {
	if len(items) == 0 {
		items = []order.LineRequest{{ProductID: productP1, Quantity: 2}}
	}
	return order.CreateRequest{
		Items:         items,
		PaymentMethod: method,
		Customer:      validCustomer(),
	}
}

func (f *fixture) create(t *testing.T, req order.CreateRequest) *order.Order {
	t.Helper()
	o, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	return o
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %d, got %s", want, got)
}

// --- Create ---

func TestCreate(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		wantStatus order.Status
	}{
		{name: "cash on delivery", method: "cod", wantStatus: order.StatusPending},
		{name: "wallet payment", method: "momo", wantStatus: order.StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			o := f.create(t, createRequest(tt.method))

			assertDecimal(t, 200000, o.Subtotal)
			assertDecimal(t, 30000, o.ShippingFee)
			assertDecimal(t, 230000, o.Total)
			assertDecimal(t, 230000, o.AmountDue)
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, "Nguyen Van A", o.Customer.FullName)
			assert.Regexp(t, `^ORD-20260310-`, o.Number)
			assert.NotEmpty(t, o.AccessToken)

			require.Equal(t, 1, o.History.Len())
			entry, _ := o.History.Last()
			assert.Nil(t, entry.From)
			assert.Equal(t, tt.wantStatus, entry.To)

			require.Len(t, o.Items, 1)
			assert.Equal(t, "Rice cooker", o.Items[0].Name)
			assert.Equal(t, "p1.jpg", o.Items[0].Image)

			stored, err := f.orders.Get(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, o.Number, stored.Number)
			assert.Equal(t, []order.EventType{order.EventCreated}, f.events.types())
		})
	}
}

func TestCreateSnapshotsPrices(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.create(t, createRequest("cod",
		order.LineRequest{ProductID: productP1, Quantity: 1},
		order.LineRequest{ProductID: productP2, Quantity: 3},
		order.LineRequest{ProductID: productP1, Quantity: 1},
	))
	assertDecimal(t, 335000, o.Subtotal)
	assertDecimal(t, 365000, o.Total)

	f.catalog.Put(product.Snapshot{ID: productP1, Name: "Rice cooker", Price: dec(999999)})
	got, err := f.manager.Get(ctx, o.ID, order.GetOptions{})
	require.NoError(t, err)
	assertDecimal(t, 335000, got.Subtotal)
	assertDecimal(t, 100000, got.Items[0].Price)

	sum := decimal.Zero
	for _, item := range got.Items {
		sum = sum.Add(item.LineTotal())
	}
	assert.True(t, sum.Equal(got.Subtotal))
	assert.True(t, got.Subtotal.Add(got.ShippingFee).Equal(got.Total))
}

func TestCreateShippingFeeOverride(t *testing.T) {
	f := newFixture(t, nil)
	fee := dec(0)
	req := createRequest("cod")
	req.ShippingFee = &fee
	o := f.create(t, req)
	assertDecimal(t, 200000, o.Total)

	f = newFixture(t, nil, order.WithShippingFee(dec(15000)))
	o = f.create(t, createRequest("cod"))
	assertDecimal(t, 215000, o.Total)
}

func TestCreateValidation(t *testing.T) {
	negative := dec(-1)
	tooPrecise := decimal.RequireFromString("1.00000000000000000000000000000000001")
	tooLarge := decimal.New(1, 40)
	tests := []struct {
		name    string
		mutate  func(r *order.CreateRequest)
		wantErr error
		target  any
	}{
		{
			name:    "no items",
			mutate:  func(r *order.CreateRequest) { r.Items = nil },
			wantErr: order.ErrEmptyItems,
		},
		{
			name:    "blank product id",
			mutate:  func(r *order.CreateRequest) { r.Items = []order.LineRequest{{ProductID: " ", Quantity: 1}} },
			wantErr: order.ErrEmptyItems,
		},
		{
			name:   "zero quantity",
			mutate: func(r *order.CreateRequest) { r.Items = []order.LineRequest{{ProductID: productP1, Quantity: 0}} },
			target: new(*order.InvalidQuantityError),
		},
		{
			name: "unknown product",
			mutate: func(r *order.CreateRequest) {
				r.Items = append(r.Items, order.LineRequest{ProductID: "P404", Quantity: 1})
			},
			target: new(*order.ProductNotFoundError),
		},
		{
			name:    "unsupported payment method",
			mutate:  func(r *order.CreateRequest) { r.PaymentMethod = "card" },
			wantErr: order.ErrInvalidPaymentMethod,
		},
		{
			name:    "negative shipping fee",
			mutate:  func(r *order.CreateRequest) { r.ShippingFee = &negative },
			wantErr: order.ErrInvalidShippingFee,
		},
		{
			name:    "shipping fee beyond two decimals",
			mutate:  func(r *order.CreateRequest) { r.ShippingFee = &tooPrecise },
			wantErr: order.ErrInvalidShippingFee,
		},
		{
			name:    "shipping fee too large",
			mutate:  func(r *order.CreateRequest) { r.ShippingFee = &tooLarge },
			wantErr: order.ErrInvalidShippingFee,
		},
		{
			name:   "blank customer field",
			mutate: func(r *order.CreateRequest) { r.Customer.Ward = "   " },
		},
		{
			name:   "missing phone",
			mutate: func(r *order.CreateRequest) { r.Customer.Phone = "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := createRequest("cod")
			tt.mutate(&req)

			_, err := f.manager.Create(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.target != nil {
				assert.ErrorAs(t, err, tt.target)
			}

			list, _, err := f.orders.List(context.Background(), order.ListFilter{IncludeDeleted: true})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestCreateRetriesIdentityCollision(t *testing.T) {
	repo := &collidingOrders{Orders: memory.NewOrders(), n: 2}
	f := newFixture(t, repo)
	o := f.create(t, createRequest("cod"))
	assert.NotEmpty(t, o.Number)

	repo.n = 3
	_, err := f.manager.Create(context.Background(), createRequest("cod"))
	assert.ErrorIs(t, err, order.ErrDuplicateIdentity)
}

// --- Create with coupon ---

func createCoupon(t *testing.T, f *fixture, def coupon.Definition) *coupon.Coupon {
	t.Helper()
	def.Name = "Promo"
	c, err := f.ledger.Create(context.Background(), def, "admin-1")
	require.NoError(t, err)
	return c
}

func TestCreateWithCoupon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := createCoupon(t, f, coupon.Definition{
		Code:            "SALE10",
		DiscountType:    coupon.DiscountPercentage,
		DiscountValue:   dec(10),
		MaximumDiscount: func() *decimal.Decimal { d := dec(15000); return &d }(),
	})

	req := createRequest("cod")
	req.UserID = "user-1"
	req.CouponCode = "sale10"
	o := f.create(t, req)

	require.NotNil(t, o.Promotion)
	assert.Equal(t, c.ID, o.Promotion.CouponID)
	assert.Equal(t, "SALE10", o.Promotion.Code)
	assertDecimal(t, 15000, o.Promotion.DiscountAmount)
	assertDecimal(t, 230000, o.Total)
	assertDecimal(t, 215000, o.AmountDue)

	got, err := f.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, []string{"user-1"}, got.RedeemedBy)

	// Second use by the same user is rejected and no order is stored.
	_, err = f.manager.Create(ctx, req)
	assert.ErrorIs(t, err, coupon.ErrPerUserLimitReached)
}

func TestCreateWithFreeShipping(t *testing.T) {
	f := newFixture(t, nil)
	createCoupon(t, f, coupon.Definition{Code: "SHIPFREE", DiscountType: coupon.DiscountFreeShipping})

	req := createRequest("momo")
	req.CouponCode = "SHIPFREE"
	o := f.create(t, req)

	assert.True(t, o.ShippingFee.IsZero())
	assertDecimal(t, 200000, o.Total)
	assertDecimal(t, 200000, o.AmountDue)
	assert.Equal(t, order.StatusPaid, o.Status)
}

func TestCreateReleasesCouponWhenInsertFails(t *testing.T) {
	repo := &failingOrders{Orders: memory.NewOrders(), err: errors.New("connection reset")}
	f := newFixture(t, repo)
	ctx := context.Background()
	c := createCoupon(t, f, coupon.Definition{
		Code:          "ONCE",
		DiscountType:  coupon.DiscountFixedAmount,
		DiscountValue: dec(5000),
		UsageLimit:    func() *int { v := 1; return &v }(),
	})

	req := createRequest("cod")
	req.UserID = "user-1"
	req.CouponCode = "ONCE"
	_, err := f.manager.Create(ctx, req)
	require.Error(t, err)
	assert.Equal(t, fault.KindInternal, fault.KindOf(err))

	got, err := f.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
	assert.Empty(t, got.RedeemedBy)
	assert.Empty(t, f.events.types())
}

func TestCreateRejectsUnstorableShippingFeeBeforeRedeem(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := createCoupon(t, f, coupon.Definition{
		Code:          "ONCE",
		DiscountType:  coupon.DiscountFixedAmount,
		DiscountValue: dec(5000),
		UsageLimit:    func() *int { v := 1; return &v }(),
	})

	fee := decimal.RequireFromString("1.00000000000000000000000000000000001")
	req := createRequest("cod")
	req.UserID = "user-1"
	req.CouponCode = "ONCE"
	req.ShippingFee = &fee
	_, err := f.manager.Create(ctx, req)
	require.ErrorIs(t, err, order.ErrInvalidShippingFee)

	got, err := f.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
	assert.Empty(t, got.RedeemedBy)
	assert.Empty(t, f.events.types())
}

func TestCreateWithUnknownCoupon(t *testing.T) {
	f := newFixture(t, nil)
	req := createRequest("cod")
	req.CouponCode = "NOPE"
	_, err := f.manager.Create(context.Background(), req)
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)
}

// --- Get / List ---

func TestGet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.create(t, createRequest("cod"))

	got, err := f.manager.Get(ctx, o.ID, order.GetOptions{AccessToken: o.AccessToken})
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.manager.Get(ctx, o.ID, order.GetOptions{AccessToken: "wrong"})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.manager.Get(ctx, "bad-id", order.GetOptions{})
	assert.ErrorIs(t, err, order.ErrInvalidID)

	_, err = f.manager.Get(ctx, uuid.NewString(), order.GetOptions{})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestList(t *testing.T) {
	var tick time.Duration
	f := newFixture(t, nil, order.WithClock(func() time.Time {
		tick += time.Minute
		return testNow.Add(tick)
	}))
	ctx := context.Background()

	var ids []string
	for i := range 5 {
		req := createRequest("cod")
		if i%2 == 0 {
			req.PaymentMethod = "momo"
			req.UserID = "user-1"
		}
		ids = append(ids, f.create(t, req).ID)
	}

	page, info, err := f.manager.List(ctx, order.ListQuery{Page: paging.Request{Page: 1, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)
	assert.Equal(t, paging.Info{Page: 1, Limit: 2, Total: 5, TotalPages: 3}, info)

	paid, info, err := f.manager.List(ctx, order.ListQuery{Status: "paid"})
	require.NoError(t, err)
	assert.Len(t, paid, 3)
	assert.Equal(t, paging.DefaultLimit, info.Limit)

	mine, _, err := f.manager.List(ctx, order.ListQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	_, info, err = f.manager.List(ctx, order.ListQuery{Page: paging.Request{Limit: 1000}})
	require.NoError(t, err)
	assert.Equal(t, paging.MaxLimit, info.Limit)

	_, _, err = f.manager.List(ctx, order.ListQuery{Status: "lost"})
	assert.ErrorIs(t, err, order.ErrInvalidStatus)
}

// --- Status transitions ---

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.create(t, createRequest("cod"))

	path := []order.Status{order.StatusPaid, order.StatusProcessing, order.StatusShipped, order.StatusDelivered}
	for i, next := range path {
		updated, err := f.manager.TransitionStatus(ctx, o.ID, next, "admin-1")
		require.NoError(t, err, next)
		assert.Equal(t, next, updated.Status)
		assert.Equal(t, i+2, updated.History.Len())

		last, _ := updated.History.Last()
		require.NotNil(t, last.From)
		assert.Equal(t, next, last.To)
		assert.Equal(t, "admin-1", last.ActorID)
		assert.NotEmpty(t, last.Note)
	}

	for _, next := range order.Statuses {
		_, err := f.manager.TransitionStatus(ctx, o.ID, next, "admin-1")
		assert.ErrorIs(t, err, order.ErrOrderLocked, next)
	}

	got, err := f.manager.Get(ctx, o.ID, order.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, got.History.Len())
	assertDecimal(t, 230000, got.Total)
}

func TestTransitionStatusRejectsInvalidMoves(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.create(t, createRequest("momo"))

	_, err := f.manager.TransitionStatus(ctx, o.ID, order.StatusPending, "admin-1")
	var tErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, order.StatusPaid, tErr.From)

	_, err = f.manager.TransitionStatus(ctx, o.ID, "refunded", "admin-1")
	assert.ErrorIs(t, err, order.ErrInvalidStatus)

	_, err = f.manager.TransitionStatus(ctx, o.ID, order.StatusCancelled, "admin-1")
	require.NoError(t, err)
	for _, next := range order.Statuses {
		_, err := f.manager.TransitionStatus(ctx, o.ID, next, "admin-1")
		require.Error(t, err, next)
		assert.Equal(t, fault.KindValidation, fault.KindOf(err))
	}

	got, err := f.manager.Get(ctx, o.ID, order.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, got.History.Len())
}

func TestTransitionStatusConcurrentChange(t *testing.T) {
	tests := []struct {
		name    string
		raceTo  order.Status
		next    order.Status
		wantErr error
		target  any
	}{
		{
			// pending -> paid won the race; paid -> processing is legal but
			// must not be applied on top of a status the caller never saw.
			name:    "still reachable",
			raceTo:  order.StatusPaid,
			next:    order.StatusProcessing,
			wantErr: order.ErrStatusConflict,
		},
		{
			name:   "no longer reachable",
			raceTo: order.StatusCancelled,
			next:   order.StatusProcessing,
			target: new(*order.InvalidTransitionError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &racingOrders{Orders: memory.NewOrders(), to: tt.raceTo}
			f := newFixture(t, repo)
			ctx := context.Background()
			o := f.create(t, createRequest("cod"))

			_, err := f.manager.TransitionStatus(ctx, o.ID, tt.next, "admin-1")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.target != nil {
				assert.ErrorAs(t, err, tt.target)
			}

			got, err := repo.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.raceTo, got.Status)
			assert.Equal(t, 2, got.History.Len())
		})
	}
}

func TestTransitionStatusParallelRequests(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.create(t, createRequest("cod"))

	const workers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.TransitionStatus(ctx, o.ID, order.StatusPaid, "admin-1"); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	got, err := f.manager.Get(ctx, o.ID, order.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, got.History.Len())
}

func TestCancelReleasesCoupon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := createCoupon(t, f, coupon.Definition{
		Code:          "BACK5K",
		DiscountType:  coupon.DiscountFixedAmount,
		DiscountValue: dec(5000),
	})

	req := createRequest("cod")
	req.UserID = "user-1"
	req.CouponCode = "BACK5K"
	o := f.create(t, req)

	_, err := f.manager.TransitionStatus(ctx, o.ID, order.StatusCancelled, "admin-1")
	require.NoError(t, err)

	got, err := f.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
	assert.Empty(t, got.RedeemedBy)
	assert.Equal(t, []order.EventType{order.EventCreated, order.EventStatusChanged}, f.events.types())
}

// --- Archive ---

func TestArchive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.create(t, createRequest("cod"))
	keep := f.create(t, createRequest("cod"))

	_, err := f.manager.Archive(ctx, o.ID, "admin-1", "   ")
	assert.ErrorIs(t, err, order.ErrReasonRequired)

	archived, err := f.manager.Archive(ctx, o.ID, "admin-1", " duplicate order ")
	require.NoError(t, err)
	require.NotNil(t, archived.DeletedAt)
	assert.Equal(t, testNow, *archived.DeletedAt)
	assert.Equal(t, "admin-1", archived.DeletedBy)
	assert.Equal(t, "duplicate order", archived.DeleteReason)
	assert.Equal(t, order.StatusPending, archived.Status)
	assert.Equal(t, 1, archived.History.Len())

	_, err = f.manager.Archive(ctx, o.ID, "admin-1", "again")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.manager.Get(ctx, o.ID, order.GetOptions{})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	got, err := f.manager.Get(ctx, o.ID, order.GetOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)

	visible, _, err := f.manager.List(ctx, order.ListQuery{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, keep.ID, visible[0].ID)

	all, _, err := f.manager.List(ctx, order.ListQuery{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.manager.TransitionStatus(ctx, o.ID, order.StatusPaid, "admin-1")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.manager.Archive(ctx, uuid.NewString(), "admin-1", "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	assert.Contains(t, f.events.types(), order.EventArchived)
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t, nil)
	f.events.err = errors.New("broker down")
	o := f.create(t, createRequest("cod"))
	assert.NotEmpty(t, o.ID)
}
