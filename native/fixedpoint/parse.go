package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"
)

var hundred = big.NewRat(100, 1)

// ParsePercent converts a human percentage such as "0.4" or "50%" into
// Precision units. Fractions below one unit are truncated.
func ParsePercent(raw string) (*big.Int, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	if trimmed == "" {
		return new(big.Int), nil
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: invalid percentage %q", raw)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("fixedpoint: percentage %q must not be negative", raw)
	}
	rat.Quo(rat, hundred)
	rat.Mul(rat, new(big.Rat).SetInt(precisionInt))
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

// ParseRatio converts a decimal multiple such as "5" (5x leverage) or "0.25"
// into One units.
func ParseRatio(raw string) (*big.Int, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "x")
	if trimmed == "" {
		return new(big.Int), nil
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("fixedpoint: invalid ratio %q", raw)
	}
	rat.Mul(rat, new(big.Rat).SetInt(oneInt))
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	return v, nil
}

// FormatPercent renders a Precision-scaled percentage as a decimal string.
func FormatPercent(pct *big.Int) string {
	rat := new(big.Rat).SetFrac(Clone(pct), precisionInt)
	rat.Mul(rat, hundred)
	return strings.TrimRight(strings.TrimRight(rat.FloatString(7), "0"), ".")
}
