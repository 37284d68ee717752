// Package decimal defines the fixed-point numeric types used throughout the
// strategy runtime. Price and Volume wrap shopspring/decimal so that PnL,
// quantity, and FX arithmetic never touch a float64 — double precision floats
// are forbidden in ledger math because they cannot represent tenths-of-a-cent
// and FX cross-rates exactly across long compounding chains.
package decimal

import (
	"github.com/shopspring/decimal"
)

// Price is an arbitrary-precision fixed-point value used for quotes, trade
// prices, and PnL. It is suitable for FX and crypto instruments that require
// more than float64's ~15 significant digits of precision.
type Price = decimal.Decimal

// Volume is an arbitrary-precision fixed-point value used for order and
// position quantities.
type Volume = decimal.Decimal

// Zero is the additive identity, usable as a zero value for Price/Volume.
var Zero = decimal.Zero

// NewFromFloat builds a Price/Volume from a float64. Only used at the edges
// (parsing vendor payloads, test fixtures) — never in ledger arithmetic.
func NewFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// NewFromString parses a decimal string, returning an error on malformed input.
func NewFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// RoundToIncrement rounds v to the nearest multiple of increment, rounding
// halves away from zero. A zero or negative increment returns v unchanged.
func RoundToIncrement(v, increment decimal.Decimal) decimal.Decimal {
	if increment.Sign() <= 0 {
		return v
	}
	quotient := v.DivRound(increment, 0)
	return quotient.Mul(increment)
}

// Max returns the greater of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
