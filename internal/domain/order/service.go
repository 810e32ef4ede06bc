package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/money"
	"github.com/xenking/storefront/internal/domain/paging"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	instrumentationName = "github.com/xenking/storefront/internal/domain/order"

	// maxIdentityAttempts bounds regeneration of number and token on a
	// uniqueness collision.
	maxIdentityAttempts = 3
)

// DefaultShippingFee is charged when a request does not override it.
var DefaultShippingFee = decimal.NewFromInt(30000)

// Promotions is the part of the coupon ledger used at checkout.
type Promotions interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, userID string) (*coupon.ValidationResult, error)
	Redeem(ctx context.Context, id, userID string) (*coupon.Coupon, error)
	Unredeem(ctx context.Context, id, userID string) error
}

var _ Promotions = (*coupon.Ledger)(nil)

// LineRequest asks for quantity units of a product.
type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	Items         []LineRequest
	PaymentMethod string
	Customer      Customer
	// UserID is empty for guest checkout.
	UserID string
	// ShippingFee overrides the default fee when set.
	ShippingFee *decimal.Decimal
	CouponCode  string
}

// GetOptions controls the visibility policy of Get.
type GetOptions struct {
	IncludeDeleted bool
	// AccessToken, when set, must match the order's token.
	AccessToken string
}

// ListQuery selects orders for listing.
type ListQuery struct {
	Page           paging.Request
	Status         string
	UserID         string
	IncludeDeleted bool
}

// Manager owns the order lifecycle: priced creation, status transitions and
// archival.
type Manager struct {
	products   product.Resolver
	orders     Repository
	promotions Promotions
	events     Publisher

	shippingFee decimal.Decimal
	tokenBytes  int
	now         func() time.Time

	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	created       metric.Int64Counter
	transitions   metric.Int64Counter
}

// Option configures a Manager.
type Option func(*Manager)

// WithPromotions enables coupon codes at checkout.
func WithPromotions(p Promotions) Option {
	return func(m *Manager) { m.promotions = p }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.events = p }
}

// WithShippingFee sets the default shipping fee.
func WithShippingFee(fee decimal.Decimal) Option {
	return func(m *Manager) { m.shippingFee = fee }
}

// WithTokenBytes sets the access token entropy in bytes.
func WithTokenBytes(n int) Option {
	return func(m *Manager) { m.tokenBytes = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(instrumentationName) }
}

// NewManager creates a Manager that prices orders with products and persists
// them in orders.
func NewManager(products product.Resolver, orders Repository, opts ...Option) (*Manager, error) {
	m := &Manager{
		products:      products,
		orders:        orders,
		events:        NopPublisher{},
		shippingFee:   DefaultShippingFee,
		tokenBytes:    DefaultTokenBytes,
		now:           time.Now,
		tracer:        otel.GetTracerProvider().Tracer(instrumentationName),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.shippingFee.IsNegative() {
		return nil, errors.New("default shipping fee must not be negative")
	}

	meter := m.meterProvider.Meter(instrumentationName)
	var err error
	if m.created, err = meter.Int64Counter("storefront.order.created",
		metric.WithDescription("Orders created by payment method"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	if m.transitions, err = meter.Int64Counter("storefront.order.transitions",
		metric.WithDescription("Order status transitions by target status and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	return m, nil
}

// Create prices the requested items against the catalog, optionally redeems
// a coupon, and stores the order with a single insert. A coupon redeemed for
// an order that fails to persist is released again.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.Create")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	lines := make([]LineRequest, len(req.Items))
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, ErrEmptyItems
		}
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		lines[i] = item
		ids[i] = item.ProductID
	}
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	customer := req.Customer
	customer.Normalize()
	if err := customer.Validate(); err != nil {
		return nil, err
	}
	shippingFee := m.shippingFee
	if req.ShippingFee != nil {
		if req.ShippingFee.IsNegative() || !money.Fits(*req.ShippingFee) {
			return nil, ErrInvalidShippingFee
		}
		shippingFee = *req.ShippingFee
	}

	// Single catalog read; prices are frozen into the order from here on.
	snapshots, err := m.products.Resolve(ctx, product.UniqueIDs(ids))
	if err != nil {
		return nil, errors.Wrap(err, "resolve products")
	}
	items := make([]LineItem, len(lines))
	subtotal := decimal.Zero
	for i, item := range lines {
		p, ok := snapshots[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		items[i] = LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  item.Quantity,
			Image:     p.Image,
		}
		subtotal = subtotal.Add(items[i].LineTotal())
	}

	now := m.now()
	o := &Order{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Items:         items,
		Subtotal:      subtotal,
		Customer:      customer,
		PaymentMethod: method,
		Status:        method.InitialStatus(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.History = NewHistory(o.Status, now, req.UserID)

	if code := strings.TrimSpace(req.CouponCode); code != "" {
		promo, err := m.applyCoupon(ctx, code, subtotal, req.UserID)
		if err != nil {
			return nil, err
		}
		o.Promotion = promo
		if promo.DiscountType == coupon.DiscountFreeShipping {
			shippingFee = decimal.Zero
		}
	}
	o.ShippingFee = shippingFee
	o.Total = subtotal.Add(shippingFee)
	o.AmountDue = o.Total
	if o.Promotion != nil {
		o.AmountDue = decimal.Max(o.Total.Sub(o.Promotion.DiscountAmount), decimal.Zero)
	}

	if err := m.insert(ctx, o); err != nil {
		if o.Promotion != nil {
			m.releaseCoupon(ctx, o, "order insert failed")
		}
		return nil, err
	}

	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(method))))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("status", string(o.Status)),
		zap.Stringer("total", o.Total),
		zap.Int("items", len(o.Items)),
	)
	m.publish(ctx, o, EventCreated, "", req.UserID)
	return o, nil
}

func (m *Manager) applyCoupon(ctx context.Context, code string, subtotal decimal.Decimal, userID string) (*Promotion, error) {
	if m.promotions == nil {
		return nil, coupon.ErrCouponNotFound
	}
	res, err := m.promotions.Validate(ctx, code, subtotal, userID)
	if err != nil {
		return nil, err
	}
	c, err := m.promotions.Redeem(ctx, res.Coupon.ID, userID)
	if err != nil {
		return nil, err
	}
	return &Promotion{
		CouponID:       c.ID,
		Code:           c.Code,
		DiscountType:   c.DiscountType,
		DiscountAmount: res.DiscountAmount,
	}, nil
}

// insert stores o, regenerating its number and token on collision.
func (m *Manager) insert(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		number, err := NewNumber(o.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "generate order number")
		}
		token, err := NewAccessToken(m.tokenBytes)
		if err != nil {
			return errors.Wrap(err, "generate access token")
		}
		o.Number, o.AccessToken = number, token

		err = m.orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateIdentity) || attempt == maxIdentityAttempts {
			return errors.Wrap(err, "create order")
		}
		zctx.From(ctx).Warn("Order identity collision, regenerating", zap.Int("attempt", attempt))
	}
}

// Get returns the order with the given id under the visibility policy opts.
// An access token mismatch is reported as not found.
func (m *Manager) Get(ctx context.Context, id string, opts GetOptions) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	o, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Archived() && !opts.IncludeDeleted {
		return nil, ErrOrderNotFound
	}
	if opts.AccessToken != "" && !TokenMatches(o.AccessToken, opts.AccessToken) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// List returns a page of orders, newest first.
func (m *Manager) List(ctx context.Context, q ListQuery) ([]Order, paging.Info, error) {
	f := ListFilter{
		Page:           q.Page.Normalize(),
		UserID:         q.UserID,
		IncludeDeleted: q.IncludeDeleted,
	}
	if q.Status != "" {
		st, err := ParseStatus(q.Status)
		if err != nil {
			return nil, paging.Info{}, err
		}
		f.Status = &st
	}
	orders, total, err := m.orders.List(ctx, f)
	if err != nil {
		return nil, paging.Info{}, errors.Wrap(err, "list orders")
	}
	return orders, paging.NewInfo(f.Page, total), nil
}

// TransitionStatus moves the order to next and appends one history entry.
// The write is conditional on the status read beforehand; if another request
// changed it in between, the call fails instead of applying on top.
func (m *Manager) TransitionStatus(ctx context.Context, id string, next Status, actorID string) (*Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.TransitionStatus",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.next_status", string(next))),
	)
	defer span.End()

	o, err := m.transition(ctx, id, next, actorID)
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(next)),
		attribute.Bool("ok", err == nil),
	))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return o, nil
}

func (m *Manager) transition(ctx context.Context, id string, next Status, actorID string) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	cur, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Archived() {
		return nil, ErrOrderNotFound
	}
	if err := CheckTransition(cur.Status, next); err != nil {
		return nil, err
	}

	entry := Transition(cur.Status, next, m.now(), actorID)
	updated, err := m.orders.UpdateStatus(ctx, id, cur.Status, entry)
	if errors.Is(err, ErrPreconditionFailed) {
		return nil, m.explainStatusMiss(ctx, id, cur.Status, next)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", updated.ID),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(next)),
		zap.String("actor_id", actorID),
	)
	if next == StatusCancelled && updated.Promotion != nil {
		m.releaseCoupon(ctx, updated, "order cancelled")
	}
	m.publish(ctx, updated, EventStatusChanged, cur.Status, actorID)
	return updated, nil
}

// explainStatusMiss re-reads an order whose conditional status write matched
// nothing and reports why. It never retries the write.
func (m *Manager) explainStatusMiss(ctx context.Context, id string, expected, next Status) error {
	latest, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if latest.Archived() {
		return ErrOrderNotFound
	}
	if latest.Status != expected {
		if err := CheckTransition(latest.Status, next); err != nil {
			return err
		}
	}
	return ErrStatusConflict
}

// Archive soft-deletes the order. Archiving an unknown or already archived
// order fails with ErrOrderNotFound.
func (m *Manager) Archive(ctx context.Context, id, actorID, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	o, err := m.orders.Archive(ctx, id, Deletion{At: m.now(), By: actorID, Reason: reason})
	if err != nil {
		if errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "archive order")
	}
	zctx.From(ctx).Info("Order archived",
		zap.String("order_id", o.ID),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)
	m.publish(ctx, o, EventArchived, "", actorID)
	return o, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Order, error) {
	o, err := m.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// releaseCoupon gives back the coupon use held by o. Failures are logged: the
// order change that triggered the release has already been decided.
func (m *Manager) releaseCoupon(ctx context.Context, o *Order, why string) {
	if m.promotions == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := m.promotions.Unredeem(ctx, o.Promotion.CouponID, o.UserID); err != nil {
		zctx.From(ctx).Error("Release coupon",
			zap.Error(err),
			zap.String("order_id", o.ID),
			zap.String("coupon_id", o.Promotion.CouponID),
			zap.String("reason", why),
		)
	}
}

func (m *Manager) publish(ctx context.Context, o *Order, typ EventType, prev Status, actorID string) {
	e := Event{
		Type:           typ,
		OrderID:        o.ID,
		Number:         o.Number,
		UserID:         o.UserID,
		Status:         o.Status,
		PreviousStatus: prev,
		ActorID:        actorID,
		Total:          o.Total.String(),
		At:             o.UpdatedAt,
	}
	if o.DeletedAt != nil && typ == EventArchived {
		e.At = *o.DeletedAt
	}
	if err := m.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.Error(err),
			zap.String("type", string(typ)),
			zap.String("order_id", o.ID),
		)
	}
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
