package coupon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/money"
)

const codeInvalidCoupon = "invalid_coupon"

// Definition is the admin-editable part of a coupon.
type Definition struct {
	Code               string           `json:"code" validate:"required,min=3,max=32,alphanum"`
	Name               string           `json:"name" validate:"required,max=120"`
	Description        string           `json:"description" validate:"max=500"`
	DiscountType       DiscountType     `json:"discountType" validate:"required,oneof=percentage fixed_amount free_shipping"`
	DiscountValue      decimal.Decimal  `json:"discountValue"`
	MaximumDiscount    *decimal.Decimal `json:"maximumDiscount"`
	MinimumOrderAmount decimal.Decimal  `json:"minimumOrderAmount"`
	UsageLimit         *int             `json:"usageLimit" validate:"omitempty,min=1"`
	PerUserLimit       int              `json:"perUserLimit" validate:"gte=0"`
	Active             *bool            `json:"active"`
	ValidFrom          *time.Time       `json:"validFrom"`
	ValidUntil         *time.Time       `json:"validUntil"`
}

// Normalize trims text fields, upper-cases the code and fills defaults.
func (d *Definition) Normalize() {
	d.Code = NormalizeCode(d.Code)
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	if d.PerUserLimit == 0 {
		d.PerUserLimit = DefaultPerUserLimit
	}
}

// Validate checks d after Normalize.
func (d *Definition) Validate() error {
	if err := fault.CheckStruct(codeInvalidCoupon, d); err != nil {
		return err
	}
	if d.DiscountValue.IsNegative() {
		return fault.Validation(codeInvalidCoupon, "discountValue must not be negative")
	}
	if !money.Fits(d.DiscountValue) {
		return errAmountPrecision("discountValue")
	}
	if d.DiscountType == DiscountPercentage && d.DiscountValue.GreaterThan(hundred) {
		return fault.Validation(codeInvalidCoupon, "discountValue must be at most 100 for percentage coupons")
	}
	if d.MaximumDiscount != nil {
		if d.DiscountType != DiscountPercentage {
			return fault.Validation(codeInvalidCoupon, "maximumDiscount applies to percentage coupons only")
		}
		if d.MaximumDiscount.IsNegative() {
			return fault.Validation(codeInvalidCoupon, "maximumDiscount must not be negative")
		}
		if !money.Fits(*d.MaximumDiscount) {
			return errAmountPrecision("maximumDiscount")
		}
	}
	if d.MinimumOrderAmount.IsNegative() {
		return fault.Validation(codeInvalidCoupon, "minimumOrderAmount must not be negative")
	}
	if !money.Fits(d.MinimumOrderAmount) {
		return errAmountPrecision("minimumOrderAmount")
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && d.ValidUntil.Before(*d.ValidFrom) {
		return fault.Validation(codeInvalidCoupon, "validUntil must not be before validFrom")
	}
	return nil
}

func errAmountPrecision(field string) error {
	return fault.Validationf(codeInvalidCoupon, "%s must have at most %d decimal places and %d integer digits",
		field, money.Scale, money.MaxIntegerDigits)
}

// apply copies the definition onto c. Usage counters are left untouched.
func (d *Definition) apply(c *Coupon) {
	c.Code = d.Code
	c.Name = d.Name
	c.Description = d.Description
	c.DiscountType = d.DiscountType
	c.DiscountValue = d.DiscountValue
	c.MaximumDiscount = d.MaximumDiscount
	c.MinimumOrderAmount = d.MinimumOrderAmount
	c.UsageLimit = d.UsageLimit
	c.PerUserLimit = d.PerUserLimit
	c.Active = d.Active == nil || *d.Active
	c.ValidFrom = d.ValidFrom
	c.ValidUntil = d.ValidUntil
}
