// Package money provides cent-safe amount comparison helpers.
package money

import "github.com/shopspring/decimal"

// halfCent absorbs float64 representation noise when comparing amounts.
var halfCent = decimal.New(5, -3) // 0.005

// Equal reports whether two amounts are the same to the cent,
// ignoring sign.
func Equal(a, b float64) bool {
	da := decimal.NewFromFloat(a).Abs()
	db := decimal.NewFromFloat(b).Abs()
	return da.Sub(db).Abs().Cmp(halfCent) < 0
}

// AbsDiff returns the absolute difference between the magnitudes of two
// amounts.
func AbsDiff(a, b float64) float64 {
	da := decimal.NewFromFloat(a).Abs()
	db := decimal.NewFromFloat(b).Abs()
	diff, _ := da.Sub(db).Abs().Float64()
	return diff
}

// WithinAbs reports whether the magnitudes of a and b differ by at most
// tol currency units.
func WithinAbs(a, b, tol float64) bool {
	da := decimal.NewFromFloat(a).Abs()
	db := decimal.NewFromFloat(b).Abs()
	return da.Sub(db).Abs().Cmp(decimal.NewFromFloat(tol).Add(halfCent)) <= 0
}

// WithinRel reports whether the magnitudes of a and b differ by at most
// the fraction tol of a's magnitude.
func WithinRel(a, b, tol float64) bool {
	if tol <= 0 {
		return false
	}
	da := decimal.NewFromFloat(a).Abs()
	if da.IsZero() {
		return Equal(a, b)
	}
	db := decimal.NewFromFloat(b).Abs()
	ratio := da.Sub(db).Abs().Div(da)
	return ratio.Cmp(decimal.NewFromFloat(tol)) <= 0
}

// Format renders an amount with two decimal places.
func Format(a float64) string {
	return decimal.NewFromFloat(a).StringFixed(2)
}
