package math

import (
	"errors"
	"math/big"
)

// Fixed-point precision for ratios, rates, and fee schedules.
// 1_000_000 represents 100%.
const PrecisionScale = 1_000_000

var (
	// Precision is PrecisionScale as a big integer, shared and never mutated.
	Precision = big.NewInt(PrecisionScale)

	// ErrDivisionByZero is returned when a quotient's denominator is zero.
	// Callers must handle it explicitly; there is no infinity encoding.
	ErrDivisionByZero = errors.New("division by zero")
)

// MulDiv computes floor(a * b / denom). Truncating division is deliberate:
// the on-chain contracts floor every quotient, and approval amounts derived
// here must match the chain's rounding exactly.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if denom == nil || denom.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denom), nil
}

// MulScale computes floor(a * num / den) with int64 ratio terms.
func MulScale(a *big.Int, num, den int64) (*big.Int, error) {
	return MulDiv(a, big.NewInt(num), big.NewInt(den))
}

// ApplyRate computes floor(amount * rate / PrecisionScale) where rate is a
// fixed-point fraction on the PrecisionScale.
func ApplyRate(amount *big.Int, rate int64) *big.Int {
	out, _ := MulDiv(amount, big.NewInt(rate), Precision)
	return out
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clone returns a defensive copy, mapping nil to zero.
func Clone(a *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}

// IsPositive reports whether a is non-nil and strictly greater than zero.
func IsPositive(a *big.Int) bool {
	return a != nil && a.Sign() > 0
}

// IsZeroOrNil reports whether a carries no value.
func IsZeroOrNil(a *big.Int) bool {
	return a == nil || a.Sign() == 0
}

// Pow10 returns 10^n for unit conversions between an asset's smallest unit
// and its whole-unit price.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
