// Package money bounds the monetary amounts the stores accept.
package money

import "github.com/shopspring/decimal"

const (
	// Scale is the number of fractional digits an amount may carry.
	Scale = 2
	// MaxIntegerDigits matches the NUMERIC(14, 2) catalog column.
	MaxIntegerDigits = 12
)

var limit = decimal.New(1, MaxIntegerDigits)

// Fits reports whether d has at most Scale fractional digits and at most
// MaxIntegerDigits integer digits.
func Fits(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale)) && d.Abs().LessThan(limit)
}
