package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	repos "github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/tracing"
)

const couponTracer = "coupon-repository"

const couponColumns = `id, code, discount_percentage, max_uses, max_uses_per_user, current_uses,
	valid_from, valid_until, min_amount, max_amount, allowed_methods, is_active, created_at, updated_at`

// CouponRepository handles the coupon catalogue
type CouponRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ repos.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository creates a new coupon repository
func NewCouponRepository(db *sqlx.DB, logger *zap.Logger) *CouponRepository {
	return &CouponRepository{
		db:     db,
		logger: logger,
	}
}

func (r *CouponRepository) Create(ctx context.Context, coupon *entities.DiscountCoupon) (err error) {
	ctx, span := tracing.StartSpan(ctx, couponTracer, "coupon_repo.create",
		attribute.String("coupon_code", coupon.Code),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if coupon.AllowedMethods == nil {
		coupon.AllowedMethods = []string{}
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO discount_coupons (`+couponColumns+`)
		VALUES (
			:id, :code, :discount_percentage, :max_uses, :max_uses_per_user, :current_uses,
			:valid_from, :valid_until, :min_amount, :max_amount, :allowed_methods, :is_active,
			:created_at, :updated_at
		)`, coupon)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewDuplicateError("coupon code already exists")
		}
		r.logger.Error("failed to create coupon", zap.Error(err), zap.String("code", coupon.Code))
		return fmt.Errorf("failed to create coupon: %w", err)
	}

	r.logger.Info("coupon created", zap.String("coupon_id", coupon.ID.String()), zap.String("code", coupon.Code))
	return nil
}

func (r *CouponRepository) get(ctx context.Context, where string, arg interface{}) (*entities.DiscountCoupon, error) {
	var c entities.DiscountCoupon
	err := r.db.GetContext(ctx, &c, `SELECT `+couponColumns+` FROM discount_coupons WHERE `+where+` = $1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repos.ErrCouponNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &c, nil
}

func (r *CouponRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *entities.DiscountCoupon, err error) {
	ctx, span := tracing.StartSpan(ctx, couponTracer, "coupon_repo.get",
		attribute.String("coupon_id", id.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	return r.get(ctx, "id", id)
}

// GetByCode looks the coupon up by its normalized code
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (_ *entities.DiscountCoupon, err error) {
	code = entities.NormalizeCouponCode(code)
	ctx, span := tracing.StartSpan(ctx, couponTracer, "coupon_repo.get_by_code",
		attribute.String("coupon_code", code),
	)
	defer func() { tracing.EndSpan(span, err) }()

	return r.get(ctx, "code", code)
}

func (r *CouponRepository) CountUserUsages(ctx context.Context, couponID, userID uuid.UUID) (_ int, err error) {
	ctx, span := tracing.StartSpan(ctx, couponTracer, "coupon_repo.count_user_usages",
		attribute.String("coupon_id", couponID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var count int
	err = r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`, couponID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count coupon usages: %w", err)
	}
	return count, nil
}

// Deactivate soft-disables a coupon. Existing usages stay in place.
func (r *CouponRepository) Deactivate(ctx context.Context, code string) (err error) {
	code = entities.NormalizeCouponCode(code)
	ctx, span := tracing.StartSpan(ctx, couponTracer, "coupon_repo.deactivate",
		attribute.String("coupon_code", code),
	)
	defer func() { tracing.EndSpan(span, err) }()

	result, err := r.db.ExecContext(ctx,
		`UPDATE discount_coupons SET is_active = FALSE, updated_at = NOW() WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to deactivate coupon: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repos.ErrCouponNotFound()
	}

	r.logger.Info("coupon deactivated", zap.String("code", code))
	return nil
}

func (r *CouponRepository) ListActive(ctx context.Context) (_ []*entities.DiscountCoupon, err error) {
	ctx, span := tracing.StartSpan(ctx, couponTracer, "coupon_repo.list_active")
	defer func() { tracing.EndSpan(span, err) }()

	coupons := []*entities.DiscountCoupon{}
	err = r.db.SelectContext(ctx, &coupons,
		`SELECT `+couponColumns+` FROM discount_coupons WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	return coupons, nil
}
