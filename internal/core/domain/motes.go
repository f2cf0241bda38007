package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MotesExponent is the number of decimal places between motes and whole tokens.
const MotesExponent = 9

// ParseMotes parses a non-negative integer amount of motes.
func ParseMotes(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse motes %q: %w", s, err)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("parse motes %q: not a non-negative integer", s)
	}
	return d, nil
}

// Denominate integer-divides a motes amount by 10^9.
func Denominate(motes decimal.Decimal) int64 {
	return motes.Shift(-MotesExponent).Floor().IntPart()
}

// ToMotes converts whole tokens back to motes.
func ToMotes(tokens int64) decimal.Decimal {
	return decimal.NewFromInt(tokens).Shift(MotesExponent)
}
