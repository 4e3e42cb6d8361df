// Package calc holds the pure money arithmetic of an interim payment certificate.
//
// All amounts are decimal(18,3). Every computed field is rounded exactly once,
// half up (ties go toward positive infinity, so -1.0005 becomes -1.000), and
// intermediate sums are never rounded.
package calc

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits stored for money and quantities.
const Scale = 3

var half = decimal.New(5, -1)

// Round rounds d half up to Scale places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Shift(Scale).Add(half).Floor().Shift(-Scale)
}

// Mul multiplies a by b and rounds the product once.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Mul(b))
}

// Sum adds amounts without rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
