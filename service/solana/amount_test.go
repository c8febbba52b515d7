package solana

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAmount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := ParseAmount(s)
	require.NoError(t, err)
	return d
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     uint64
	}{
		{"one USDC", "1.0", 6, 1_000_000},
		{"one and a half", "1.5", 6, 1_500_000},
		{"smallest unit", "0.000001", 6, 1},
		{"below smallest unit floors to zero", "0.0000009", 6, 0},
		{"extra digits are truncated not rounded", "1.9999999", 6, 1_999_999},
		{"binary-unfriendly fraction is exact", "0.29", 6, 290_000},
		{"zero decimals", "42", 0, 42},
		{"nine decimals", "1.123456789", 9, 1_123_456_789},
		{"zero", "0", 6, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(mustAmount(t, tt.amount), tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBaseUnits_Rejects(t *testing.T) {
	_, err := ToBaseUnits(mustAmount(t, "-1"), 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ToBaseUnits(mustAmount(t, "18446744073709551616"), 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	got, err := ToBaseUnits(mustAmount(t, "18446744073709551615"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got)
}

func TestToBaseUnits_Monotonic(t *testing.T) {
	step := decimal.RequireFromString("0.0000003")
	amount := decimal.Zero
	var prev uint64
	for i := 0; i < 1000; i++ {
		amount = amount.Add(step)
		got, err := ToBaseUnits(amount, 6)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, prev, "amount %s", amount)
		prev = got
	}
}

func TestAmountFromFloat(t *testing.T) {
	d, err := AmountFromFloat(0.29)
	require.NoError(t, err)
	units, err := ToBaseUnits(d, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(290_000), units)

	_, err = AmountFromFloat(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = AmountFromFloat(math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 2.50 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("2.5")))

	_, err = ParseAmount("two")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseAmount("")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatBaseUnits(t *testing.T) {
	assert.Equal(t, "1.000000", FormatBaseUnits(1_000_000, 6))
	assert.Equal(t, "0.000001", FormatBaseUnits(1, 6))
	assert.Equal(t, "1234.567890", FormatBaseUnits(1_234_567_890, 6))
	assert.Equal(t, "7", FormatBaseUnits(7, 0))
}
