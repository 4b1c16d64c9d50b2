package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
)

// Coupons is the coupon catalogue view of a Store
type Coupons struct {
	s *Store
}

func (s *Store) Coupons() *Coupons {
	return &Coupons{s: s}
}

func (c *Coupons) Create(_ context.Context, coupon *entities.DiscountCoupon) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, exists := c.s.byCode[coupon.Code]; exists {
		return apperrors.NewDuplicateError("coupon code already exists")
	}
	c.s.coupons[coupon.ID] = copyCoupon(coupon)
	c.s.byCode[coupon.Code] = coupon.ID
	return nil
}

func (c *Coupons) GetByID(_ context.Context, id uuid.UUID) (*entities.DiscountCoupon, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	coupon, ok := c.s.coupons[id]
	if !ok {
		return nil, repositories.ErrCouponNotFound()
	}
	return copyCoupon(coupon), nil
}

func (c *Coupons) GetByCode(_ context.Context, code string) (*entities.DiscountCoupon, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	id, ok := c.s.byCode[entities.NormalizeCouponCode(code)]
	if !ok {
		return nil, repositories.ErrCouponNotFound()
	}
	return copyCoupon(c.s.coupons[id]), nil
}

func (c *Coupons) CountUserUsages(_ context.Context, couponID, userID uuid.UUID) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.countUsagesLocked(couponID, userID), nil
}

func (c *Coupons) Deactivate(_ context.Context, code string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	id, ok := c.s.byCode[entities.NormalizeCouponCode(code)]
	if !ok {
		return repositories.ErrCouponNotFound()
	}
	coupon := c.s.coupons[id]
	coupon.IsActive = false
	coupon.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *Coupons) ListActive(_ context.Context) ([]*entities.DiscountCoupon, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	out := make([]*entities.DiscountCoupon, 0, len(c.s.coupons))
	for _, coupon := range c.s.coupons {
		if coupon.IsActive {
			out = append(out, copyCoupon(coupon))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
