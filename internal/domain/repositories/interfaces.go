package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixpay/settlement_service/internal/domain/entities"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
)

// ApproveParams carries the fields persisted by PENDING -> APPROVED
type ApproveParams struct {
	AdminID      uuid.UUID
	Notes        *string
	ScheduledFor time.Time
	// PayoutRef is set when the admin already paid out by hand
	PayoutRef *string
	DecidedAt time.Time
}

// RejectParams carries the fields persisted by PENDING -> REJECTED
type RejectParams struct {
	AdminID   uuid.UUID
	Reason    string
	Notes     *string
	DecidedAt time.Time
}

// WithdrawalRepository owns withdrawal requests. Every status change is a
// single compare-and-set on (id, expected status); a request found in any
// other status yields a conflict and is left untouched.
type WithdrawalRepository interface {
	Create(ctx context.Context, w *entities.WithdrawalRequest) error
	// CreateWithCoupon redeems the coupon and inserts the request and its
	// usage row atomically. It fails when the coupon's global or per-user
	// cap is already reached.
	CreateWithCoupon(ctx context.Context, w *entities.WithdrawalRequest, reservation entities.CouponReservation) error

	GetByID(ctx context.Context, id uuid.UUID) (*entities.WithdrawalRequest, error)
	GetByPayoutRef(ctx context.Context, ref string) (*entities.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error)

	Approve(ctx context.Context, id uuid.UUID, params ApproveParams) (*entities.WithdrawalRequest, error)
	// Reject and Cancel release any coupon usage in the same transaction.
	Reject(ctx context.Context, id uuid.UUID, params RejectParams) (*entities.WithdrawalRequest, error)
	Cancel(ctx context.Context, id, userID uuid.UUID, at time.Time) (*entities.WithdrawalRequest, error)

	// ClaimDue moves up to limit APPROVED requests with scheduled_for <= now
	// to PROCESSING in one statement and returns them. Concurrent callers
	// never receive the same request.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entities.WithdrawalRequest, error)
	// AttachPayoutRef records the rail's ref on a PROCESSING request that has
	// none yet.
	AttachPayoutRef(ctx context.Context, id uuid.UUID, ref string, at time.Time) (*entities.WithdrawalRequest, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (*entities.WithdrawalRequest, error)
	Fail(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*entities.WithdrawalRequest, error)

	// ListInFlight returns PROCESSING requests whose next poll is due.
	ListInFlight(ctx context.Context, now time.Time, limit int) ([]*entities.WithdrawalRequest, error)
	SchedulePoll(ctx context.Context, id uuid.UUID, attempts int, next time.Time) error
}

// CouponRepository stores the coupon catalogue. Counters are only changed
// through WithdrawalRepository reservations and releases.
type CouponRepository interface {
	Create(ctx context.Context, coupon *entities.DiscountCoupon) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.DiscountCoupon, error)
	GetByCode(ctx context.Context, code string) (*entities.DiscountCoupon, error)
	CountUserUsages(ctx context.Context, couponID, userID uuid.UUID) (int, error)
	Deactivate(ctx context.Context, code string) error
	ListActive(ctx context.Context) ([]*entities.DiscountCoupon, error)
}

// Reasons returned when a reservation guard rejects a redemption
const (
	ReasonUsageLimitReached        = "usage limit reached"
	ReasonPerUserUsageLimitReached = "per-user usage limit reached"
)

// NewStateConflict reports a compare-and-set that found the request in a
// status other than the one the operation expects.
func NewStateConflict(op string, expected, current entities.WithdrawalStatus) error {
	return apperrors.NewConflictError(fmt.Sprintf("cannot %s withdrawal in status %s", op, current)).
		WithDetail("expected_status", string(expected)).
		WithDetail("current_status", string(current))
}

// ErrWithdrawalNotFound is returned for unknown ids, refs, or requests
// owned by another user.
func ErrWithdrawalNotFound() error {
	return apperrors.NewNotFoundError("withdrawal")
}

func ErrCouponNotFound() error {
	return apperrors.NewNotFoundError("coupon")
}
