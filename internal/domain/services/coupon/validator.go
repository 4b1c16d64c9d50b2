package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/logger"
)

// Rejection reasons, in the order the checks run
const (
	ReasonInactive      = "coupon is inactive"
	ReasonNotYetValid   = "coupon is not yet valid"
	ReasonExpired       = "coupon has expired"
	ReasonMethod        = "coupon not allowed for method"
	ReasonBelowMinimum  = "amount below coupon minimum"
	ReasonAboveMaximum  = "amount above coupon maximum"
	ReasonUsageLimit    = repositories.ReasonUsageLimitReached
	ReasonPerUserLimit  = repositories.ReasonPerUserUsageLimitReached
	ReasonUnknownCoupon = "coupon not found"
)

// Validator decides whether a coupon applies to one candidate withdrawal.
// The first failing check wins so the same inputs always report the same
// reason.
type Validator struct {
	now func() time.Time
}

func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Validate returns the discount percentage when the coupon applies.
// userUses is how many times the user has already redeemed the coupon.
func (v *Validator) Validate(c *entities.DiscountCoupon, amount int64, method entities.WithdrawalMethod, userUses int) (int, error) {
	now := v.now()

	if !c.IsActive {
		return 0, apperrors.NewCouponError(ReasonInactive)
	}
	if now.Before(c.ValidFrom) {
		return 0, apperrors.NewCouponError(ReasonNotYetValid)
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return 0, apperrors.NewCouponError(ReasonExpired)
	}
	if !c.AllowsMethod(method) {
		return 0, apperrors.NewCouponError(ReasonMethod)
	}
	if c.MinAmount != nil && amount < *c.MinAmount {
		return 0, apperrors.NewCouponError(ReasonBelowMinimum)
	}
	if c.MaxAmount != nil && amount > *c.MaxAmount {
		return 0, apperrors.NewCouponError(ReasonAboveMaximum)
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return 0, apperrors.NewCouponError(ReasonUsageLimit)
	}
	if c.MaxUsesPerUser != nil && userUses >= *c.MaxUsesPerUser {
		return 0, apperrors.NewCouponError(ReasonPerUserLimit)
	}

	return c.DiscountPercentage, nil
}

// Evaluation is an applicable coupon together with its discount
type Evaluation struct {
	Coupon             *entities.DiscountCoupon
	DiscountPercentage int
}

// Reservation returns what the store needs to redeem this coupon
func (e *Evaluation) Reservation() entities.CouponReservation {
	return entities.CouponReservation{
		CouponID:       e.Coupon.ID,
		MaxUsesPerUser: e.Coupon.MaxUsesPerUser,
	}
}

// Service loads coupons and runs the validator against them. It never
// mutates counters; reservations happen in the withdrawal store.
type Service struct {
	coupons   repositories.CouponRepository
	validator *Validator
	logger    *logger.Logger
}

func NewService(coupons repositories.CouponRepository, validator *Validator, logger *logger.Logger) *Service {
	return &Service{
		coupons:   coupons,
		validator: validator,
		logger:    logger,
	}
}

// Evaluate looks a code up and validates it for the candidate withdrawal
func (s *Service) Evaluate(ctx context.Context, code string, amount int64, method entities.WithdrawalMethod, userID uuid.UUID) (*Evaluation, error) {
	normalized := entities.NormalizeCouponCode(code)
	if normalized == "" {
		return nil, apperrors.NewCouponError(ReasonUnknownCoupon)
	}

	c, err := s.coupons.GetByCode(ctx, normalized)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewCouponError(ReasonUnknownCoupon)
		}
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	uses, err := s.coupons.CountUserUsages(ctx, c.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count coupon usages: %w", err)
	}

	pct, err := s.validator.Validate(c, amount, method, uses)
	if err != nil {
		s.logger.CtxDebug(ctx, "Coupon rejected",
			"coupon_code", normalized,
			"user_id", userID,
			"reason", apperrors.GetCode(err),
			"error", err)
		return nil, err
	}

	return &Evaluation{Coupon: c, DiscountPercentage: pct}, nil
}

// Deactivate soft-disables a coupon
func (s *Service) Deactivate(ctx context.Context, code string) error {
	normalized := entities.NormalizeCouponCode(code)
	if err := s.coupons.Deactivate(ctx, normalized); err != nil {
		return fmt.Errorf("failed to deactivate coupon: %w", err)
	}
	s.logger.CtxInfo(ctx, "Coupon deactivated", "coupon_code", normalized)
	return nil
}

// ListActive returns coupons that are currently enabled
func (s *Service) ListActive(ctx context.Context) ([]*entities.DiscountCoupon, error) {
	coupons, err := s.coupons.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	return coupons, nil
}
