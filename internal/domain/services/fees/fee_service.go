package fees

import (
	"fmt"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/money"
	"github.com/shopspring/decimal"
)

// Schedule is the fee rule for one withdrawal method. MinFee and MaxFee
// are in cents; zero disables the bound.
type Schedule struct {
	Rate   decimal.Decimal
	MinFee int64
	MaxFee int64
}

// Breakdown is the result of a fee computation. All amounts in cents and
// NetAmount + Fee - DiscountAmount == Amount always holds.
type Breakdown struct {
	Amount         int64           `json:"amount"`
	Fee            int64           `json:"fee"`
	DiscountAmount int64           `json:"discount_amount"`
	NetAmount      int64           `json:"net_amount"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
}

// Calculator computes fees and coupon discounts. It holds no mutable state
// and does no I/O, so every caller gets identical results for identical
// inputs.
type Calculator struct {
	schedules map[entities.WithdrawalMethod]Schedule
}

// DefaultSchedules are used when configuration does not override them
func DefaultSchedules() map[entities.WithdrawalMethod]Schedule {
	return map[entities.WithdrawalMethod]Schedule{
		entities.WithdrawalMethodPIX:   {Rate: decimal.RequireFromString("0.015")},
		entities.WithdrawalMethodDEPIX: {Rate: decimal.RequireFromString("0.01")},
	}
}

// NewCalculator validates the schedules and builds a calculator
func NewCalculator(schedules map[entities.WithdrawalMethod]Schedule) (*Calculator, error) {
	if err := ValidateSchedules(schedules); err != nil {
		return nil, err
	}
	copied := make(map[entities.WithdrawalMethod]Schedule, len(schedules))
	for m, s := range schedules {
		copied[m] = s
	}
	return &Calculator{schedules: copied}, nil
}

// Compute returns the fee breakdown for a gross amount. A discount
// percentage of 0 takes the same path and yields no discount.
func (c *Calculator) Compute(amount int64, method entities.WithdrawalMethod, discountPercentage int) (Breakdown, error) {
	schedule, ok := c.schedules[method]
	if !ok {
		return Breakdown{}, apperrors.NewValidationError(fmt.Sprintf("unsupported withdrawal method: %s", method))
	}
	if amount <= 0 {
		return Breakdown{}, apperrors.NewValidationError("amount must be positive")
	}
	if discountPercentage < 0 || discountPercentage > 100 {
		return Breakdown{}, apperrors.NewValidationError("discount percentage must be between 0 and 100")
	}

	fee := money.ApplyRate(amount, schedule.Rate)
	if schedule.MinFee > 0 && fee < schedule.MinFee {
		fee = schedule.MinFee
	}
	if schedule.MaxFee > 0 && fee > schedule.MaxFee {
		fee = schedule.MaxFee
	}

	discount := money.Percent(fee, discountPercentage)
	if discount > fee {
		discount = fee
	}

	net := amount - (fee - discount)
	if net <= 0 {
		return Breakdown{}, apperrors.NewValidationError("amount does not cover the withdrawal fee")
	}

	return Breakdown{
		Amount:         amount,
		Fee:            fee,
		DiscountAmount: discount,
		NetAmount:      net,
		FeeRate:        schedule.Rate,
	}, nil
}

// Rate returns the configured rate for method
func (c *Calculator) Rate(method entities.WithdrawalMethod) (decimal.Decimal, bool) {
	s, ok := c.schedules[method]
	return s.Rate, ok
}

// ValidateSchedules rejects rates outside [0, 1] and inverted bounds
func ValidateSchedules(schedules map[entities.WithdrawalMethod]Schedule) error {
	if len(schedules) == 0 {
		return fmt.Errorf("at least one fee schedule is required")
	}
	for method, s := range schedules {
		if !method.IsValid() {
			return fmt.Errorf("fee schedule for unknown method %s", method)
		}
		if s.Rate.IsNegative() {
			return fmt.Errorf("%s fee rate cannot be negative", method)
		}
		if s.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s fee rate cannot exceed 100%%", method)
		}
		if s.MinFee < 0 || s.MaxFee < 0 {
			return fmt.Errorf("%s fee bounds cannot be negative", method)
		}
		if s.MaxFee > 0 && s.MinFee > s.MaxFee {
			return fmt.Errorf("%s minimum fee exceeds maximum fee", method)
		}
	}
	return nil
}
