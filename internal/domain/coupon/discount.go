package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the amount c takes off subtotal. The result is
// never negative and never exceeds subtotal. Free shipping discounts nothing
// here; the waiver is applied to the shipping fee by the caller.
func ComputeDiscount(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = applyPercentage(c, subtotal)
	case DiscountFixedAmount:
		amount = c.DiscountValue
	case DiscountFreeShipping:
		amount = decimal.Zero
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
	return clamp(amount, subtotal), nil
}

func applyPercentage(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(c.DiscountValue).Div(hundred).Round(0)
	if c.MaximumDiscount != nil && amount.GreaterThan(*c.MaximumDiscount) {
		amount = *c.MaximumDiscount
	}
	return amount
}

// clamp bounds d to [0, upper].
func clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, upper)
}
