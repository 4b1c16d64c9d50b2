// Package money converts between user-facing decimal amounts and the
// integer cents every persisted monetary field uses.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseCents parses a decimal amount such as "1000.00" or "12.5" into cents.
// More than two fractional digits is an error rather than a silent rounding.
func ParseCents(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("amount is required")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	if d.Exponent() < -2 && !d.Equal(d.Truncate(2)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", amount)
	}

	cents := d.Mul(hundred)
	if !cents.IsInteger() || cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return cents.IntPart(), nil
}

// 10^15 cents leaves ample headroom below int64 for fee arithmetic.
const maxCents = 1_000_000_000_000_000

// FormatCents renders cents with exactly two decimals.
func FormatCents(cents int64) string {
	return ToDecimal(cents).StringFixed(2)
}

// ApplyRate returns cents * rate rounded half away from zero to the cent.
func ApplyRate(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}

// Percent returns cents * pct / 100 rounded half away from zero to the cent.
func Percent(cents int64, pct int) int64 {
	return decimal.NewFromInt(cents).Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Round(0).IntPart()
}

// ToDecimal exposes cents as a decimal amount, for responses and logs.
func ToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
