package withdrawal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	"github.com/pixpay/settlement_service/internal/domain/services/coupon"
	"github.com/pixpay/settlement_service/internal/domain/services/fees"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/metrics"
	"github.com/pixpay/settlement_service/pkg/money"
)

// CouponEvaluator resolves a code into an applicable discount
type CouponEvaluator interface {
	Evaluate(ctx context.Context, code string, amount int64, method entities.WithdrawalMethod, userID uuid.UUID) (*coupon.Evaluation, error)
}

// AuditSink receives lifecycle events. Record must not block.
type AuditSink interface {
	Record(ctx context.Context, event entities.AuditEvent)
}

// Service handles the user-facing side of withdrawals
type Service struct {
	withdrawals repositories.WithdrawalRepository
	coupons     CouponEvaluator
	calculator  *fees.Calculator
	audit       AuditSink
	logger      *logger.Logger
	now         func() time.Time
}

// NewService creates a new withdrawal service
func NewService(
	withdrawals repositories.WithdrawalRepository,
	coupons CouponEvaluator,
	calculator *fees.Calculator,
	audit AuditSink,
	logger *logger.Logger,
) *Service {
	return &Service{
		withdrawals: withdrawals,
		coupons:     coupons,
		calculator:  calculator,
		audit:       audit,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Quote is the fee preview for an amount, method and optional coupon
type Quote struct {
	fees.Breakdown
	Coupon *coupon.Evaluation
}

func couponCode(code *string) string {
	if code == nil {
		return ""
	}
	return entities.NormalizeCouponCode(*code)
}

// price runs the checks shared by quotes and requests. destination is nil
// for quotes.
func (s *Service) price(ctx context.Context, userID uuid.UUID, rawAmount string, method entities.WithdrawalMethod, destination *entities.Destination, code string) (*Quote, error) {
	amount, err := money.ParseCents(rawAmount)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if !method.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid withdrawal method: %s", method))
	}
	if destination != nil {
		if err := destination.Validate(method); err != nil {
			return nil, apperrors.NewValidationError(err.Error())
		}
	}

	var evaluation *coupon.Evaluation
	pct := 0
	if code != "" {
		evaluation, err = s.coupons.Evaluate(ctx, code, amount, method, userID)
		if err != nil {
			return nil, err
		}
		pct = evaluation.DiscountPercentage
	}

	breakdown, err := s.calculator.Compute(amount, method, pct)
	if err != nil {
		return nil, err
	}
	return &Quote{Breakdown: breakdown, Coupon: evaluation}, nil
}

// Quote previews the fee breakdown. It never persists or reserves anything.
func (s *Service) Quote(ctx context.Context, userID uuid.UUID, req *entities.QuoteRequest) (*entities.QuoteResponse, error) {
	q, err := s.price(ctx, userID, req.Amount, req.Method, nil, couponCode(req.CouponCode))
	if err != nil {
		return nil, err
	}

	resp := &entities.QuoteResponse{
		Amount:         money.FormatCents(q.Amount),
		Fee:            money.FormatCents(q.Fee),
		FeeRate:        q.FeeRate.String(),
		DiscountAmount: money.FormatCents(q.DiscountAmount),
		NetAmount:      money.FormatCents(q.NetAmount),
	}
	if q.Coupon != nil {
		code := q.Coupon.Coupon.Code
		resp.CouponCode = &code
		resp.DiscountPercentage = q.Coupon.DiscountPercentage
	}
	return resp, nil
}

func destinationFrom(req *entities.CreateWithdrawalRequest) entities.Destination {
	d := entities.Destination{ChainAddress: req.ChainAddress}
	if req.PixKeyType != nil {
		keyType := entities.PixKeyType(strings.ToUpper(string(*req.PixKeyType)))
		d.PixKeyType = &keyType
	}
	if req.PixKey != nil {
		key := *req.PixKey
		if d.PixKeyType != nil {
			key = entities.NormalizePixKey(*d.PixKeyType, key)
		}
		d.PixKey = &key
	}
	if d.ChainAddress != nil {
		addr := strings.TrimSpace(*d.ChainAddress)
		d.ChainAddress = &addr
	}
	return d
}

// RequestWithdrawal prices and persists a new PENDING request. A coupon,
// when given, is reserved in the same store operation as the insert.
func (s *Service) RequestWithdrawal(ctx context.Context, userID uuid.UUID, req *entities.CreateWithdrawalRequest) (*entities.WithdrawalRequest, error) {
	destination := destinationFrom(req)
	q, err := s.price(ctx, userID, req.Amount, req.Method, &destination, couponCode(req.CouponCode))
	if err != nil {
		return nil, err
	}

	now := s.now()
	w := &entities.WithdrawalRequest{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         q.Amount,
		Fee:            q.Fee,
		DiscountAmount: q.DiscountAmount,
		NetAmount:      q.NetAmount,
		Method:         req.Method,
		Destination:    destination,
		Status:         entities.WithdrawalStatusPending,
		RequestedAt:    now,
		UpdatedAt:      now,
	}
	if q.Coupon != nil {
		id := q.Coupon.Coupon.ID
		code := q.Coupon.Coupon.Code
		w.CouponID = &id
		w.CouponCode = &code
	}

	if err := w.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	if q.Coupon != nil {
		err = s.withdrawals.CreateWithCoupon(ctx, w, q.Coupon.Reservation())
		if err != nil {
			metrics.CouponReservationsTotal.WithLabelValues("rejected").Inc()
		} else {
			metrics.CouponReservationsTotal.WithLabelValues("reserved").Inc()
		}
	} else {
		err = s.withdrawals.Create(ctx, w)
	}
	if err != nil {
		if apperrors.IsValidation(err) || apperrors.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	metrics.WithdrawalsCreatedTotal.WithLabelValues(string(w.Method), strconv.FormatBool(w.CouponID != nil)).Inc()
	metrics.WithdrawalAmountCents.WithLabelValues(string(w.Method)).Observe(float64(w.Amount))

	event := entities.NewAuditEvent(entities.AuditWithdrawalCreated, w, "", &userID)
	event.Details = map[string]interface{}{
		"amount":     w.Amount,
		"fee":        w.Fee,
		"net_amount": w.NetAmount,
		"method":     string(w.Method),
	}
	s.audit.Record(ctx, event)
	if w.CouponID != nil {
		reserved := entities.NewAuditEvent(entities.AuditCouponReserved, w, "", &userID)
		reserved.Details = map[string]interface{}{
			"coupon_code":     *w.CouponCode,
			"discount_amount": w.DiscountAmount,
		}
		s.audit.Record(ctx, reserved)
	}

	s.logger.CtxInfo(ctx, "Withdrawal request created",
		"withdrawal_id", w.ID.String(),
		"user_id", userID.String(),
		"amount", w.Amount,
		"net_amount", w.NetAmount,
		"method", w.Method,
		"coupon_code", couponCode(w.CouponCode),
	)
	return w, nil
}

// Get returns a request owned by userID. Requests of other users are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*entities.WithdrawalRequest, error) {
	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, repositories.ErrWithdrawalNotFound()
	}
	return w, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid status: %s", *filter.Status))
	}
	return s.withdrawals.ListByUser(ctx, userID, filter.Normalize())
}

// Cancel withdraws a request that no admin has decided yet
func (s *Service) Cancel(ctx context.Context, userID, id uuid.UUID) (*entities.WithdrawalRequest, error) {
	w, err := s.withdrawals.Cancel(ctx, id, userID, s.now())
	if err != nil {
		if apperrors.IsConflict(err) {
			metrics.RecordConflict("cancel")
		}
		return nil, err
	}

	metrics.RecordTransition(string(w.Status))
	s.audit.Record(ctx, entities.NewAuditEvent(entities.AuditWithdrawalCancelled, w, entities.WithdrawalStatusPending, &userID))
	if w.CouponID != nil {
		released := entities.NewAuditEvent(entities.AuditCouponReleased, w, entities.WithdrawalStatusPending, &userID)
		released.Details = map[string]interface{}{"coupon_code": *w.CouponCode}
		s.audit.Record(ctx, released)
	}

	s.logger.CtxInfo(ctx, "Withdrawal cancelled",
		"withdrawal_id", id.String(),
		"user_id", userID.String(),
	)
	return w, nil
}
