package coupon

import (
	"context"
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

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/paging"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/coupon"

// ValidationResult is the outcome of a successful coupon validation.
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	Coupon         *Coupon         `json:"coupon"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

// Ledger owns coupon definitions and their usage counters.
type Ledger struct {
	repo Repository
	now  func() time.Time

	tracer      trace.Tracer
	redemptions metric.Int64Counter
	validations metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*ledgerOptions)

type ledgerOptions struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	now            func() time.Time
}

// WithMeterProvider sets the meter provider used for ledger counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *ledgerOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider used for ledger spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *ledgerOptions) { o.tracerProvider = tp }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *ledgerOptions) { o.now = now }
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(repo Repository, opts ...Option) (*Ledger, error) {
	o := ledgerOptions{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	redemptions, err := meter.Int64Counter("storefront.coupon.redemptions",
		metric.WithDescription("Coupon redeem and unredeem attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}
	validations, err := meter.Int64Counter("storefront.coupon.validations",
		metric.WithDescription("Coupon validations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}

	return &Ledger{
		repo:        repo,
		now:         o.now,
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		redemptions: redemptions,
		validations: validations,
	}, nil
}

// Validate checks whether code can be applied to subtotal for userID and
// computes the discount. It has no side effects. The checks run in order and
// the first failure is returned: existence, active flag, validity window,
// usage limit, per-user limit, minimum order amount.
func (l *Ledger) Validate(ctx context.Context, code string, subtotal decimal.Decimal, userID string) (*ValidationResult, error) {
	ctx, span := l.tracer.Start(ctx, "coupon.Validate")
	defer span.End()

	res, err := l.validate(ctx, code, subtotal, userID)
	l.validations.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	return res, err
}

func (l *Ledger) validate(ctx context.Context, code string, subtotal decimal.Decimal, userID string) (*ValidationResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	if subtotal.IsNegative() {
		return nil, ErrInvalidSubtotal
	}

	c, err := l.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	now := l.now()
	switch {
	case !c.Active:
		return nil, ErrCouponInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return nil, ErrCouponNotStarted
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return nil, ErrCouponExpired
	case c.Exhausted():
		return nil, ErrUsageLimitReached
	case userID != "" && c.RedemptionsBy(userID) >= c.PerUserLimit:
		return nil, ErrPerUserLimitReached
	case subtotal.LessThan(c.MinimumOrderAmount):
		return nil, &MinimumOrderError{Minimum: c.MinimumOrderAmount}
	}

	amount, err := ComputeDiscount(c, subtotal)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{Valid: true, Coupon: c, DiscountAmount: amount}, nil
}

// Redeem consumes one use of the coupon for userID (which may be empty for
// guests). The usage preconditions are re-checked by the store at write time,
// so of several concurrent callers competing for the last use exactly one
// succeeds and the rest get ErrUsageExhausted.
func (l *Ledger) Redeem(ctx context.Context, id, userID string) (*Coupon, error) {
	ctx, span := l.tracer.Start(ctx, "coupon.Redeem",
		trace.WithAttributes(attribute.String("coupon.id", id)),
	)
	defer span.End()

	c, err := l.redeem(ctx, id, userID)
	l.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "redeem"), outcome(err)))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	zctx.From(ctx).Info("Coupon redeemed",
		zap.String("coupon_id", c.ID),
		zap.String("code", c.Code),
		zap.Int("usage_count", c.UsageCount),
	)
	return c, nil
}

func (l *Ledger) redeem(ctx context.Context, id, userID string) (*Coupon, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	now := l.now()
	c, err := l.repo.Redeem(ctx, id, userID, now)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrPreconditionFailed) {
		return nil, errors.Wrap(err, "redeem coupon")
	}

	// The conditional write matched nothing. Re-read to tell the caller why;
	// the write is not retried.
	cur, err := l.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	switch {
	case !cur.Active:
		return nil, ErrCouponInactive
	case cur.ValidFrom != nil && now.Before(*cur.ValidFrom):
		return nil, ErrCouponNotStarted
	case cur.ValidUntil != nil && now.After(*cur.ValidUntil):
		return nil, ErrCouponExpired
	case userID != "" && !cur.Exhausted() && cur.RedemptionsBy(userID) >= cur.PerUserLimit:
		return nil, fault.Conflict(ErrUsageExhausted.Code, "coupon already used the maximum number of times by this user")
	default:
		return nil, ErrUsageExhausted
	}
}

// Unredeem releases one use of the coupon held by userID. It never drives the
// usage count below zero; releasing a coupon with no recorded uses is a no-op.
func (l *Ledger) Unredeem(ctx context.Context, id, userID string) error {
	ctx, span := l.tracer.Start(ctx, "coupon.Unredeem",
		trace.WithAttributes(attribute.String("coupon.id", id)),
	)
	defer span.End()

	err := l.unredeem(ctx, id, userID)
	l.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "unredeem"), outcome(err)))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (l *Ledger) unredeem(ctx context.Context, id, userID string) error {
	if err := checkID(id); err != nil {
		return err
	}
	c, err := l.repo.Unredeem(ctx, id, userID, l.now())
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) || errors.Is(err, ErrPreconditionFailed) {
			return ErrCouponNotFound
		}
		return errors.Wrap(err, "unredeem coupon")
	}
	zctx.From(ctx).Info("Coupon released",
		zap.String("coupon_id", c.ID),
		zap.String("code", c.Code),
		zap.Int("usage_count", c.UsageCount),
	)
	return nil
}

// Create stores a new coupon defined by def on behalf of actorID.
func (l *Ledger) Create(ctx context.Context, def Definition, actorID string) (*Coupon, error) {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := l.now()
	c := &Coupon{
		ID:         uuid.NewString(),
		RedeemedBy: []string{},
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	def.apply(c)

	if err := l.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	zctx.From(ctx).Info("Coupon created", zap.String("coupon_id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// Update replaces the definition of coupon id. Usage counters are preserved
// and the usage limit may not drop below the current usage count.
func (l *Ledger) Update(ctx context.Context, id string, def Definition) (*Coupon, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	c, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	def.apply(c)
	if c.UsageLimit != nil && *c.UsageLimit < c.UsageCount {
		return nil, ErrUsageLimitBelowUse
	}
	c.UpdatedAt = l.now()
	return l.save(ctx, c)
}

// Deactivate turns the coupon off. Used coupons are retired this way instead
// of being deleted.
func (l *Ledger) Deactivate(ctx context.Context, id string) (*Coupon, error) {
	c, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return c, nil
	}
	c.Active = false
	c.UpdatedAt = l.now()
	return l.save(ctx, c)
}

func (l *Ledger) save(ctx context.Context, c *Coupon) (*Coupon, error) {
	updated, err := l.repo.Update(ctx, c)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, ErrDuplicateCode):
		return nil, ErrDuplicateCode
	case errors.Is(err, ErrCouponNotFound):
		return nil, ErrCouponNotFound
	case errors.Is(err, ErrPreconditionFailed):
		// Either deleted or redeemed past the new limit since the read.
		if _, gerr := l.Get(ctx, c.ID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrUsageLimitBelowUse
	default:
		return nil, errors.Wrap(err, "update coupon")
	}
}

// Delete removes a coupon that has never been redeemed.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	err := l.repo.Delete(ctx, id)
	switch {
	case err == nil:
		zctx.From(ctx).Info("Coupon deleted", zap.String("coupon_id", id))
		return nil
	case errors.Is(err, ErrCouponNotFound):
		return ErrCouponNotFound
	case errors.Is(err, ErrPreconditionFailed):
		if _, gerr := l.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrCouponInUse
	default:
		return errors.Wrap(err, "delete coupon")
	}
}

// Get returns the coupon with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (*Coupon, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	c, err := l.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// List returns a page of coupons, newest first.
func (l *Ledger) List(ctx context.Context, f ListFilter) ([]Coupon, paging.Info, error) {
	f.Page = f.Page.Normalize()
	coupons, total, err := l.repo.List(ctx, f)
	if err != nil {
		return nil, paging.Info{}, errors.Wrap(err, "list coupons")
	}
	return coupons, paging.NewInfo(f.Page, total), nil
}

// ListAvailable returns the coupons that are currently valid.
func (l *Ledger) ListAvailable(ctx context.Context) ([]Coupon, error) {
	now := l.now()
	coupons, err := l.repo.ListAvailable(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list available coupons")
	}
	out := coupons[:0]
	for _, c := range coupons {
		if c.CurrentlyValid(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}

func outcome(err error) attribute.KeyValue {
	if err == nil {
		return attribute.String("outcome", "ok")
	}
	return attribute.String("outcome", fault.KindOf(err).String())
}
