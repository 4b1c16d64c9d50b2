package fees

import (
	"testing"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultSchedules())
	require.NoError(t, err)
	return c
}

func TestComputeExample(t *testing.T) {
	c := newCalculator(t)

	b, err := c.Compute(100000, entities.WithdrawalMethodPIX, 20)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), b.Fee)
	assert.Equal(t, int64(300), b.DiscountAmount)
	assert.Equal(t, int64(98800), b.NetAmount)
	assert.True(t, b.FeeRate.Equal(decimal.RequireFromString("0.015")))
}

func TestComputeWithoutDiscountMatchesZeroPercent(t *testing.T) {
	c := newCalculator(t)

	b, err := c.Compute(100000, entities.WithdrawalMethodPIX, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.DiscountAmount)
	assert.Equal(t, int64(98500), b.NetAmount)
}

func TestComputeFullDiscount(t *testing.T) {
	c := newCalculator(t)

	b, err := c.Compute(100000, entities.WithdrawalMethodPIX, 100)
	require.NoError(t, err)
	assert.Equal(t, b.Fee, b.DiscountAmount)
	assert.Equal(t, int64(100000), b.NetAmount)
}

func TestComputeIdentityHoldsForAllInputs(t *testing.T) {
	c := newCalculator(t)
	amounts := []int64{1, 7, 33, 99, 100, 101, 12345, 99999, 100000, 3333333, 987654321}

	for _, method := range []entities.WithdrawalMethod{entities.WithdrawalMethodPIX, entities.WithdrawalMethodDEPIX} {
		for _, amount := range amounts {
			for pct := 0; pct <= 100; pct += 5 {
				first, err := c.Compute(amount, method, pct)
				require.NoError(t, err)
				second, err := c.Compute(amount, method, pct)
				require.NoError(t, err)

				assert.Equal(t, first, second, "deterministic")
				assert.Equal(t, amount, first.NetAmount+first.Fee-first.DiscountAmount)
				assert.GreaterOrEqual(t, first.Fee-first.DiscountAmount, int64(0))
			}
		}
	}
}

func TestComputeAppliesBounds(t *testing.T) {
	c, err := NewCalculator(map[entities.WithdrawalMethod]Schedule{
		entities.WithdrawalMethodPIX: {Rate: decimal.RequireFromString("0.015"), MinFee: 100, MaxFee: 5000},
	})
	require.NoError(t, err)

	small, err := c.Compute(1000, entities.WithdrawalMethodPIX, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), small.Fee)

	large, err := c.Compute(10000000, entities.WithdrawalMethodPIX, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), large.Fee)

	_, err = c.Compute(50, entities.WithdrawalMethodPIX, 0)
	assert.True(t, apperrors.IsValidation(err), "fee larger than amount")
}

func TestComputeRejectsBadInput(t *testing.T) {
	c := newCalculator(t)

	_, err := c.Compute(0, entities.WithdrawalMethodPIX, 0)
	assert.True(t, apperrors.IsValidation(err))

	_, err = c.Compute(1000, entities.WithdrawalMethod("TED"), 0)
	assert.True(t, apperrors.IsValidation(err))

	_, err = c.Compute(1000, entities.WithdrawalMethodPIX, 101)
	assert.True(t, apperrors.IsValidation(err))
}

func TestValidateSchedules(t *testing.T) {
	bad := []map[entities.WithdrawalMethod]Schedule{
		{},
		{entities.WithdrawalMethodPIX: {Rate: decimal.RequireFromString("-0.01")}},
		{entities.WithdrawalMethodPIX: {Rate: decimal.RequireFromString("1.5")}},
		{entities.WithdrawalMethodPIX: {Rate: decimal.Zero, MinFee: 10, MaxFee: 5}},
		{entities.WithdrawalMethod("TED"): {Rate: decimal.Zero}},
	}
	for _, s := range bad {
		assert.Error(t, ValidateSchedules(s))
	}
	assert.NoError(t, ValidateSchedules(DefaultSchedules()))
}
