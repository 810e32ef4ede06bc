package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/paging"
)

// DiscountType enumerates the supported coupon discount strategies. The
// string values are persisted and returned to clients verbatim.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed amount off the subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
	// DiscountFreeShipping waives the shipping fee and discounts nothing else.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether t is one of the known discount types.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixedAmount, DiscountFreeShipping:
		return true
	default:
		return false
	}
}

// DefaultPerUserLimit applies when a definition leaves the per-user limit unset.
const DefaultPerUserLimit = 1

var (
	ErrCouponNotFound      = fault.NotFound("coupon_not_found", "coupon not found")
	ErrInvalidID           = fault.Validation("invalid_coupon_id", "invalid coupon id")
	ErrCodeRequired        = fault.Validation("coupon_code_required", "coupon code is required")
	ErrInvalidSubtotal     = fault.Validation("invalid_subtotal", "subtotal must not be negative")
	ErrCouponInactive      = fault.Validation("coupon_inactive", "coupon is not active")
	ErrCouponNotStarted    = fault.Validation("coupon_not_started", "coupon is not valid yet")
	ErrCouponExpired       = fault.Validation("coupon_expired", "coupon has expired")
	ErrUsageLimitReached   = fault.Validation("coupon_usage_limit_reached", "coupon usage limit reached")
	ErrPerUserLimitReached = fault.Validation("coupon_per_user_limit_reached", "coupon already used the maximum number of times by this user")
	ErrCouponInUse         = fault.Validation("coupon_in_use", "coupon has been redeemed and cannot be deleted, deactivate it instead")
	ErrUsageLimitBelowUse  = fault.Validation("coupon_usage_limit_below_usage", "usage limit cannot be lower than the current usage count")
	ErrUsageExhausted      = fault.Conflict("coupon_usage_exhausted", "coupon usage exhausted")
	ErrDuplicateCode       = fault.Conflict("coupon_code_taken", "coupon code already exists")

	// ErrPreconditionFailed is returned by a Repository when a conditional
	// write matched no document. The Ledger translates it into a specific
	// user-facing error.
	ErrPreconditionFailed = errors.New("coupon write precondition not met")
)

// MinimumOrderError indicates the subtotal is below the coupon's minimum.
type MinimumOrderError struct {
	Minimum decimal.Decimal
}

func (e *MinimumOrderError) Error() string {
	return "order subtotal must be at least " + e.Minimum.String() + " to use this coupon"
}

// FaultKind implements fault.Classified.
func (e *MinimumOrderError) FaultKind() fault.Kind { return fault.KindValidation }

// Coupon is a promotion definition together with its usage counters.
type Coupon struct {
	ID                 string           `json:"id"`
	Code               string           `json:"code"`
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	DiscountType       DiscountType     `json:"discountType"`
	DiscountValue      decimal.Decimal  `json:"discountValue"`
	MaximumDiscount    *decimal.Decimal `json:"maximumDiscount,omitempty"`
	MinimumOrderAmount decimal.Decimal  `json:"minimumOrderAmount"`
	UsageLimit         *int             `json:"usageLimit,omitempty"`
	UsageCount         int              `json:"usageCount"`
	PerUserLimit       int              `json:"perUserLimit"`
	RedeemedBy         []string         `json:"redeemedBy"`
	Active             bool             `json:"active"`
	ValidFrom          *time.Time       `json:"validFrom,omitempty"`
	ValidUntil         *time.Time       `json:"validUntil,omitempty"`
	CreatedBy          string           `json:"createdBy,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// Exhausted reports whether the total usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// InWindow reports whether now falls inside the optional validity window.
func (c *Coupon) InWindow(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// CurrentlyValid reports whether the coupon is active, inside its validity
// window and not exhausted at now.
func (c *Coupon) CurrentlyValid(now time.Time) bool {
	return c.Active && c.InWindow(now) && !c.Exhausted()
}

// RedemptionsBy counts how many times userID has redeemed the coupon.
func (c *Coupon) RedemptionsBy(userID string) int {
	n := 0
	for _, id := range c.RedeemedBy {
		if id == userID {
			n++
		}
	}
	return n
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ListFilter selects coupons for the admin listing.
type ListFilter struct {
	Page   paging.Request
	Active *bool
}

// Repository persists coupons. Redeem, Unredeem, Update and Delete must each
// be a single atomic conditional write against the store.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id string) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context, f ListFilter) ([]Coupon, int64, error)
	ListAvailable(ctx context.Context, now time.Time) ([]Coupon, error)

	// Update replaces the admin-editable fields. It must not touch the usage
	// counters and fails with ErrPreconditionFailed when the new usage limit
	// is below the stored usage count.
	Update(ctx context.Context, c *Coupon) (*Coupon, error)

	// Delete removes a coupon that has never been redeemed, otherwise it
	// fails with ErrPreconditionFailed.
	Delete(ctx context.Context, id string) error

	// Redeem increments the usage count and appends userID (when not empty)
	// only if, at the moment of the write, the coupon is active, inside its
	// validity window at now, below its usage limit and below the per-user
	// limit for userID. A write that matches nothing fails with
	// ErrPreconditionFailed.
	Redeem(ctx context.Context, id, userID string, now time.Time) (*Coupon, error)

	// Unredeem decrements the usage count (never below zero) and removes one
	// occurrence of userID from the redeemed list.
	Unredeem(ctx context.Context, id, userID string, now time.Time) (*Coupon, error)
}
