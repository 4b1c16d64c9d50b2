package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DiscountCoupon discounts the withdrawal fee by a percentage. Coupons are
// soft-disabled through IsActive, never deleted once used.
type DiscountCoupon struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	Code               string         `json:"code" db:"code"`
	DiscountPercentage int            `json:"discount_percentage" db:"discount_percentage"`
	MaxUses            *int           `json:"max_uses,omitempty" db:"max_uses"`
	MaxUsesPerUser     *int           `json:"max_uses_per_user,omitempty" db:"max_uses_per_user"`
	CurrentUses        int            `json:"current_uses" db:"current_uses"`
	ValidFrom          time.Time      `json:"valid_from" db:"valid_from"`
	ValidUntil         *time.Time     `json:"valid_until,omitempty" db:"valid_until"`
	MinAmount          *int64         `json:"min_amount,omitempty" db:"min_amount"`
	MaxAmount          *int64         `json:"max_amount,omitempty" db:"max_amount"`
	AllowedMethods     pq.StringArray `json:"allowed_methods" db:"allowed_methods"`
	IsActive           bool           `json:"is_active" db:"is_active"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// NormalizeCouponCode is the canonical form codes are stored and looked up in
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AllowsMethod reports whether the coupon applies to method. An empty set
// allows every method.
func (c *DiscountCoupon) AllowsMethod(method WithdrawalMethod) bool {
	if len(c.AllowedMethods) == 0 {
		return true
	}
	for _, m := range c.AllowedMethods {
		if WithdrawalMethod(m) == method {
			return true
		}
	}
	return false
}

// Validate checks the coupon definition itself, not its eligibility
func (c *DiscountCoupon) Validate() error {
	if c.Code == "" || c.Code != NormalizeCouponCode(c.Code) {
		return fmt.Errorf("coupon code must be non-empty and normalized")
	}
	if c.DiscountPercentage < 1 || c.DiscountPercentage > 100 {
		return fmt.Errorf("discount percentage must be between 1 and 100")
	}
	if c.MaxUses != nil && *c.MaxUses < 0 {
		return fmt.Errorf("max uses must not be negative")
	}
	if c.MaxUsesPerUser != nil && *c.MaxUsesPerUser < 0 {
		return fmt.Errorf("max uses per user must not be negative")
	}
	if c.CurrentUses < 0 {
		return fmt.Errorf("current uses must not be negative")
	}
	if c.ValidUntil != nil && c.ValidUntil.Before(c.ValidFrom) {
		return fmt.Errorf("valid until must not be before valid from")
	}
	if c.MinAmount != nil && c.MaxAmount != nil && *c.MinAmount > *c.MaxAmount {
		return fmt.Errorf("min amount must not exceed max amount")
	}
	for _, m := range c.AllowedMethods {
		if !WithdrawalMethod(m).IsValid() {
			return fmt.Errorf("invalid allowed method: %s", m)
		}
	}
	return nil
}

// CouponUsage ties one coupon redemption to one withdrawal. The pair
// (CouponID, WithdrawalRequestID) is unique.
type CouponUsage struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	CouponID            uuid.UUID `json:"coupon_id" db:"coupon_id"`
	UserID              uuid.UUID `json:"user_id" db:"user_id"`
	WithdrawalRequestID uuid.UUID `json:"withdrawal_request_id" db:"withdrawal_request_id"`
	AppliedAt           time.Time `json:"applied_at" db:"applied_at"`
}

// CouponReservation asks the store to redeem a coupon as part of creating
// a withdrawal.
type CouponReservation struct {
	CouponID       uuid.UUID
	MaxUsesPerUser *int
}
