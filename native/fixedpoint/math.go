// Package fixedpoint implements the percentage and ratio arithmetic shared by
// every pool operation. All values are non-negative big integers at a fixed
// scale and every division truncates toward zero.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// Precision is the denominator of every percentage (100%).
	Precision = 1_000_000_000
	// One is the unit used by ratios: ratio(a, a) == One.
	One = Precision / 100

	defaultDecimals = 18
)

var (
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrInvariant marks an internal-consistency fault such as an underflow
	// that valid preconditions should have made unreachable.
	ErrInvariant = errors.New("fixedpoint: invariant violated")
	ErrUnderflow = fmt.Errorf("%w: subtraction underflow", ErrInvariant)
	ErrNegative  = errors.New("fixedpoint: negative amount")
)

var (
	precisionInt = big.NewInt(Precision)
	oneInt       = big.NewInt(One)
	defaultUnit  = new(big.Int).Exp(big.NewInt(10), big.NewInt(defaultDecimals), nil)
	bigTen       = big.NewInt(10)
)

// PrecisionInt returns Precision as a fresh big.Int.
func PrecisionInt() *big.Int { return new(big.Int).Set(precisionInt) }

// OneInt returns One as a fresh big.Int.
func OneInt() *big.Int { return new(big.Int).Set(oneInt) }

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Clone copies v, mapping nil to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero treats nil as zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Multiply returns a*b/scale.
func Multiply(a, b, scale *big.Int) *big.Int {
	out := new(big.Int).Mul(Clone(a), Clone(b))
	if IsZero(scale) {
		return out
	}
	return out.Quo(out, scale)
}

// Divide returns a*scale/b.
func Divide(a, b, scale *big.Int) (*big.Int, error) {
	if IsZero(b) {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(Clone(a), Clone(scale))
	return out.Quo(out, b), nil
}

// Ratio returns a*One/b.
func Ratio(a, b *big.Int) (*big.Int, error) {
	return Divide(a, b, oneInt)
}

// PercentageOf returns n*pct/Precision.
func PercentageOf(pct, n *big.Int) *big.Int {
	return Multiply(n, pct, precisionInt)
}

// PrecisionUnit returns 10^decimals.
func PrecisionUnit(decimals uint32) *big.Int {
	if decimals == defaultDecimals {
		return new(big.Int).Set(defaultUnit)
	}
	return new(big.Int).Exp(bigTen, big.NewInt(int64(decimals)), nil)
}

// Add returns a+b.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(Clone(a), Clone(b))
}

// Sub returns a-b or ErrUnderflow when b exceeds a.
func Sub(a, b *big.Int) (*big.Int, error) {
	left := Clone(a)
	right := Clone(b)
	if left.Cmp(right) < 0 {
		return nil, fmt.Errorf("%w: %s - %s", ErrUnderflow, left, right)
	}
	return left.Sub(left, right), nil
}

// SaturatingSub returns a-b floored at zero.
func SaturatingSub(a, b *big.Int) *big.Int {
	out, err := Sub(a, b)
	if err != nil {
		return new(big.Int)
	}
	return out
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if Clone(a).Cmp(Clone(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// RequireNonNegative rejects nil-safe negative inputs.
func RequireNonNegative(values ...*big.Int) error {
	for _, v := range values {
		if v != nil && v.Sign() < 0 {
			return ErrNegative
		}
	}
	return nil
}
