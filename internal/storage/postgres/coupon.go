package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const couponColumns = `id, code, name, description, discount_type, discount_value,
	maximum_discount, minimum_order_amount, usage_limit, usage_count,
	per_user_limit, redeemed_by, active, valid_from, valid_until,
	created_by, created_at, updated_at`

const (
	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	// $1 is "now"; window and usage bounds are evaluated against it.
	availableCouponsWhere = `active
		AND (valid_from IS NULL OR valid_from <= $1)
		AND (valid_until IS NULL OR valid_until >= $1)
		AND (usage_limit IS NULL OR usage_count < usage_limit)`

	updateCouponSQL = `UPDATE coupons SET
		code = $2, name = $3, description = $4, discount_type = $5,
		discount_value = $6, maximum_discount = $7, minimum_order_amount = $8,
		usage_limit = $9, per_user_limit = $10, active = $11,
		valid_from = $12, valid_until = $13, updated_at = $14
		WHERE id = $1 AND ($9::int IS NULL OR usage_count <= $9::int)
		RETURNING ` + couponColumns

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1 AND usage_count = 0`

	// $2 is NULL for guest redemptions, which only count against the total limit.
	redeemCouponSQL = `UPDATE coupons SET
		usage_count = usage_count + 1,
		redeemed_by = CASE WHEN $2::text IS NULL THEN redeemed_by
			ELSE array_append(redeemed_by, $2::text) END,
		updated_at = $3
		WHERE id = $1 AND active
			AND (valid_from IS NULL OR valid_from <= $3)
			AND (valid_until IS NULL OR valid_until >= $3)
			AND (usage_limit IS NULL OR usage_count < usage_limit)
			AND ($2::text IS NULL
				OR cardinality(array_positions(redeemed_by, $2::text)) < per_user_limit)
		RETURNING ` + couponColumns

	// Removes the first occurrence of $2 only when a decrement actually happens.
	unredeemCouponSQL = `UPDATE coupons SET
		redeemed_by = CASE
			WHEN usage_count > 0 AND array_position(redeemed_by, $2::text) IS NOT NULL
			THEN redeemed_by[:array_position(redeemed_by, $2::text) - 1]
				|| redeemed_by[array_position(redeemed_by, $2::text) + 1:]
			ELSE redeemed_by END,
		usage_count = GREATEST(usage_count - 1, 0),
		updated_at = $3
		WHERE id = $1
		RETURNING ` + couponColumns
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func scanCoupon(row rowScanner) (*coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		usageLimit *int32
		discType   string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &discType, &c.DiscountValue,
		&c.MaximumDiscount, &c.MinimumOrderAmount, &usageLimit, &c.UsageCount,
		&c.PerUserLimit, &c.RedeemedBy, &c.Active, &c.ValidFrom, &c.ValidUntil,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DiscountType = coupon.DiscountType(discType)
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	if c.RedeemedBy == nil {
		c.RedeemedBy = []string{}
	}
	return &c, nil
}

func (r *CouponRepository) queryOne(ctx context.Context, sql string, args ...any) (*coupon.Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, sql, args...))
}

// Create inserts c. A taken code is reported as coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	redeemedBy := c.RedeemedBy
	if redeemedBy == nil {
		redeemedBy = []string{}
	}
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Name, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MaximumDiscount, c.MinimumOrderAmount, c.UsageLimit, c.UsageCount,
		c.PerUserLimit, redeemedBy, c.Active, c.ValidFrom, c.ValidUntil,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	c, err := r.queryOne(ctx, getCouponSQL, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", id, err)
	}
	return c, nil
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := r.queryOne(ctx, getCouponByCodeSQL, coupon.NormalizeCode(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, nil
}

// List runs the page query and the count concurrently.
func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int64, error) {
	where, args := couponListWhere(f)
	page := f.Page.Normalize()

	var (
		out   []coupon.Coupon
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.pool.QueryRow(gctx, `SELECT count(*) FROM coupons`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("counting coupons: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n := len(args)
		sql := fmt.Sprintf(`SELECT %s FROM coupons%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			couponColumns, where, n+1, n+2)
		list, err := r.queryMany(gctx, sql, append(args, page.Limit, page.Offset())...)
		if err != nil {
			return fmt.Errorf("listing coupons: %w", err)
		}
		out = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAvailable returns active coupons inside their window with uses left.
func (r *CouponRepository) ListAvailable(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	sql := `SELECT ` + couponColumns + ` FROM coupons WHERE ` + availableCouponsWhere +
		` ORDER BY created_at DESC, id DESC`
	out, err := r.queryMany(ctx, sql, now)
	if err != nil {
		return nil, fmt.Errorf("listing available coupons: %w", err)
	}
	return out, nil
}

func (r *CouponRepository) queryMany(ctx context.Context, sql string, args ...any) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []coupon.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Update replaces the editable fields while the stored usage count still
// fits under the new limit.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) (*coupon.Coupon, error) {
	updated, err := r.queryOne(ctx, updateCouponSQL,
		c.ID, c.Code, c.Name, c.Description, string(c.DiscountType),
		c.DiscountValue, c.MaximumDiscount, c.MinimumOrderAmount,
		c.UsageLimit, c.PerUserLimit, c.Active,
		c.ValidFrom, c.ValidUntil, c.UpdatedAt,
	)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, coupon.ErrPreconditionFailed
	case isUniqueViolation(err):
		return nil, coupon.ErrDuplicateCode
	default:
		return nil, fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
}

func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrPreconditionFailed
	}
	return nil
}

// Redeem consumes one use in a single guarded UPDATE.
func (r *CouponRepository) Redeem(ctx context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	c, err := r.queryOne(ctx, redeemCouponSQL, id, optString(userID), now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrPreconditionFailed
		}
		return nil, fmt.Errorf("redeeming coupon %q: %w", id, err)
	}
	return c, nil
}

// Unredeem gives one use back. The count never goes below zero.
func (r *CouponRepository) Unredeem(ctx context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	c, err := r.queryOne(ctx, unredeemCouponSQL, id, optString(userID), now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("unredeeming coupon %q: %w", id, err)
	}
	return c, nil
}

func couponListWhere(f coupon.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Active != nil {
		args = append(args, *f.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
