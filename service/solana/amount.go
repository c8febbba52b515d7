package solana

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ParseAmount parses a display amount such as "1.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// AmountFromFloat converts a float display amount using its shortest decimal
// representation, so 0.29 becomes exactly 0.29 rather than 0.28999999999999998.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("%w: %v is not finite", ErrInvalidAmount, f)
	}
	return decimal.NewFromFloat(f), nil
}

// ToBaseUnits returns floor(amount * 10^decimals). Digits beyond the mint's
// precision are truncated, never rounded.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.Sign() < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	scaled := amount.Shift(int32(decimals)).Truncate(0)
	if scaled.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%w: %s overflows u64 base units", ErrInvalidAmount, amount)
	}
	return scaled.BigInt().Uint64(), nil
}

// FormatBaseUnits renders base units as a display amount with exactly decimals
// fractional digits.
func FormatBaseUnits(units uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).StringFixed(int32(decimals))
}
