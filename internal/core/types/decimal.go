// Package types provides common type aliases and utilities.
package types

import (
	"bytes"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Cent is the smallest representable monetary step.
var Cent = decimal.New(1, -2)

// NewMoney creates a Money value from a float.
// WARNING: Use NewMoneyFromString for precise values.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Round2 rounds half away from zero to two decimals, which is half-up for
// the non-negative amounts handled here.
func Round2(m Money) Money {
	return m.Round(2)
}

// Sum adds all values.
func Sum(values ...Money) Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinCent reports whether |a-b| <= 0.01.
func WithinCent(a, b Money) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Cent)
}

// IsInteger reports whether the value has no fractional part.
func IsInteger(m Money) bool {
	return m.Equal(m.Truncate(0))
}

// Fixed is a decimal rendered as an unquoted JSON number with a fixed
// number of fractional digits. Provider payloads use it for every amount.
type Fixed struct {
	Value  decimal.Decimal
	Places int32
}

// Fixed2 renders v with two decimals (half-up).
func Fixed2(v decimal.Decimal) Fixed { return Fixed{Value: v, Places: 2} }

// Fixed4 renders v with four decimals, used for quantities.
func Fixed4(v decimal.Decimal) Fixed { return Fixed{Value: v, Places: 4} }

// String returns the fixed-point representation.
func (f Fixed) String() string {
	return f.Value.StringFixed(f.Places)
}

// MarshalJSON encodes Fixed as a JSON number (not string).
func (f Fixed) MarshalJSON() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalJSON accepts either a JSON number or string.
func (f *Fixed) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Value = decimal.Zero
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	f.Value = d
	if exp := -d.Exponent(); exp > 0 {
		f.Places = exp
	}
	return nil
}
