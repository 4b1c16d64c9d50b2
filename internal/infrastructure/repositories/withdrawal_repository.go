package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	repos "github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/tracing"
)

const withdrawalTracer = "withdrawal-repository"

const withdrawalColumns = `id, user_id, amount, fee, discount_amount, net_amount, method,
	pix_key, pix_key_type, chain_address, status, status_reason, coupon_id, coupon_code,
	admin_notes, decided_by, decided_at, external_payout_ref, poll_attempts, next_poll_at,
	requested_at, scheduled_for, claimed_at, processed_at, updated_at`

const defaultClaimLimit = 100

// WithdrawalRepository persists withdrawal requests in postgres. Each
// transition is a single conditional UPDATE ... RETURNING.
type WithdrawalRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ repos.WithdrawalRepository = (*WithdrawalRepository)(nil)

// NewWithdrawalRepository creates a new withdrawal repository
func NewWithdrawalRepository(db *sqlx.DB, logger *zap.Logger) *WithdrawalRepository {
	return &WithdrawalRepository{
		db:     db,
		logger: logger,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *WithdrawalRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const insertWithdrawalQuery = `
	INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
	VALUES (
		:id, :user_id, :amount, :fee, :discount_amount, :net_amount, :method,
		:pix_key, :pix_key_type, :chain_address, :status, :status_reason, :coupon_id, :coupon_code,
		:admin_notes, :decided_by, :decided_at, :external_payout_ref, :poll_attempts, :next_poll_at,
		:requested_at, :scheduled_for, :claimed_at, :processed_at, :updated_at
	)`

func insertWithdrawal(ctx context.Context, e sqlx.ExtContext, w *entities.WithdrawalRequest) error {
	if _, err := sqlx.NamedExecContext(ctx, e, insertWithdrawalQuery, w); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewDuplicateError("withdrawal or payout reference already exists")
		}
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

// Create inserts a request without a coupon
func (r *WithdrawalRepository) Create(ctx context.Context, w *entities.WithdrawalRequest) (err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.create",
		attribute.String("withdrawal_id", w.ID.String()),
		attribute.String("user_id", w.UserID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if err = insertWithdrawal(ctx, r.db, w); err != nil {
		r.logger.Error("failed to create withdrawal", zap.Error(err), zap.String("withdrawal_id", w.ID.String()))
		return err
	}

	r.logger.Info("withdrawal created",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("user_id", w.UserID.String()),
		zap.Int64("amount", w.Amount),
	)
	return nil
}

// CreateWithCoupon redeems the coupon and inserts the request in one
// transaction. The guarded increment holds the coupon row lock until
// commit, so concurrent redemptions of one coupon see each other's usage
// rows when the per-user cap is counted.
func (r *WithdrawalRepository) CreateWithCoupon(ctx context.Context, w *entities.WithdrawalRequest, reservation entities.CouponReservation) (err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.create_with_coupon",
		attribute.String("withdrawal_id", w.ID.String()),
		attribute.String("coupon_id", reservation.CouponID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		var uses int
		err := tx.GetContext(ctx, &uses, `
			UPDATE discount_coupons
			SET current_uses = current_uses + 1, updated_at = $2
			WHERE id = $1 AND is_active AND (max_uses IS NULL OR current_uses < max_uses)
			RETURNING current_uses`,
			reservation.CouponID, w.RequestedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return r.reservationMiss(ctx, tx, reservation.CouponID)
		}
		if err != nil {
			return fmt.Errorf("failed to reserve coupon: %w", err)
		}

		if reservation.MaxUsesPerUser != nil {
			var userUses int
			if err := tx.GetContext(ctx, &userUses,
				`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`,
				reservation.CouponID, w.UserID,
			); err != nil {
				return fmt.Errorf("failed to count coupon usages: %w", err)
			}
			if userUses >= *reservation.MaxUsesPerUser {
				return apperrors.NewCouponError(repos.ReasonPerUserUsageLimitReached)
			}
		}

		if err := insertWithdrawal(ctx, tx, w); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO coupon_usages (id, coupon_id, user_id, withdrawal_request_id, applied_at)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), reservation.CouponID, w.UserID, w.ID, w.RequestedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewDuplicateError("coupon already applied to this withdrawal")
			}
			return fmt.Errorf("failed to insert coupon usage: %w", err)
		}

		r.logger.Info("coupon reserved",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("coupon_id", reservation.CouponID.String()),
			zap.Int("current_uses", uses),
		)
		return nil
	})
	return err
}

// reservationMiss explains why the guarded increment matched no row
func (r *WithdrawalRepository) reservationMiss(ctx context.Context, q sqlx.QueryerContext, couponID uuid.UUID) error {
	var active bool
	err := sqlx.GetContext(ctx, q, &active, `SELECT is_active FROM discount_coupons WHERE id = $1`, couponID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return repos.ErrCouponNotFound()
	case err != nil:
		return fmt.Errorf("failed to load coupon: %w", err)
	case !active:
		return apperrors.NewCouponError("coupon is inactive")
	}
	return apperrors.NewCouponError(repos.ReasonUsageLimitReached)
}

// releaseCoupon drops the usage row of a withdrawal and gives the use back.
// A withdrawal without a usage row is left alone.
func (r *WithdrawalRepository) releaseCoupon(ctx context.Context, tx *sqlx.Tx, withdrawalID uuid.UUID, at time.Time) error {
	var couponIDs []uuid.UUID
	if err := tx.SelectContext(ctx, &couponIDs,
		`DELETE FROM coupon_usages WHERE withdrawal_request_id = $1 RETURNING coupon_id`, withdrawalID,
	); err != nil {
		return fmt.Errorf("failed to delete coupon usage: %w", err)
	}
	for _, couponID := range couponIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE discount_coupons
			SET current_uses = current_uses - 1, updated_at = $2
			WHERE id = $1 AND current_uses > 0`,
			couponID, at,
		); err != nil {
			return fmt.Errorf("failed to release coupon: %w", err)
		}
		r.logger.Info("coupon released",
			zap.String("withdrawal_id", withdrawalID.String()),
			zap.String("coupon_id", couponID.String()),
		)
	}
	return nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.get",
		attribute.String("withdrawal_id", id.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var w entities.WithdrawalRequest
	err = r.db.GetContext(ctx, &w, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repos.ErrWithdrawalNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByPayoutRef(ctx context.Context, ref string) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.get_by_payout_ref",
		attribute.String("payout_ref", ref),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var w entities.WithdrawalRequest
	err = r.db.GetContext(ctx, &w, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE external_payout_ref = $1`, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repos.ErrWithdrawalNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal by payout ref: %w", err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) list(ctx context.Context, where []string, args []interface{}, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error) {
	filter = filter.Normalize()
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY requested_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	withdrawals := []*entities.WithdrawalRequest{}
	if err := r.db.SelectContext(ctx, &withdrawals, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return withdrawals, nil
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter entities.WithdrawalFilter) (_ []*entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.list_by_user",
		attribute.String("user_id", userID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	return r.list(ctx, []string{"user_id = $1"}, []interface{}{userID}, filter)
}

func (r *WithdrawalRepository) ListByStatus(ctx context.Context, filter entities.WithdrawalFilter) (_ []*entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.list_by_status")
	defer func() { tracing.EndSpan(span, err) }()

	return r.list(ctx, nil, nil, filter)
}

// transitionMiss distinguishes a missing row from a row in another status
// after a conditional UPDATE matched nothing.
func transitionMiss(ctx context.Context, q sqlx.QueryerContext, op string, id uuid.UUID, expected entities.WithdrawalStatus) error {
	var current entities.WithdrawalStatus
	err := sqlx.GetContext(ctx, q, &current, `SELECT status FROM withdrawal_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return repos.ErrWithdrawalNotFound()
	}
	if err != nil {
		return fmt.Errorf("failed to load withdrawal status: %w", err)
	}
	return repos.NewStateConflict(op, expected, current)
}

// compareAndSet runs a conditional UPDATE ... RETURNING whose WHERE clause
// pins the expected status.
func compareAndSet(ctx context.Context, q sqlx.QueryerContext, op string, id uuid.UUID, expected entities.WithdrawalStatus, query string, args ...interface{}) (*entities.WithdrawalRequest, error) {
	var w entities.WithdrawalRequest
	err := sqlx.GetContext(ctx, q, &w, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transitionMiss(ctx, q, op, id, expected)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.NewDuplicateError("payout reference already attached to another withdrawal")
		}
		return nil, fmt.Errorf("failed to %s withdrawal: %w", op, err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) Approve(ctx context.Context, id uuid.UUID, p repos.ApproveParams) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.approve",
		attribute.String("withdrawal_id", id.String()),
		attribute.String("admin_id", p.AdminID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	w, err := compareAndSet(ctx, r.db, "approve", id, entities.WithdrawalStatusPending, `
		UPDATE withdrawal_requests
		SET status = $3, admin_notes = $4, decided_by = $5, decided_at = $6,
			scheduled_for = $7, external_payout_ref = $8, updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		id, entities.WithdrawalStatusPending, entities.WithdrawalStatusApproved,
		p.Notes, p.AdminID, p.DecidedAt, p.ScheduledFor, p.PayoutRef,
	)
	if err != nil {
		return nil, err
	}

	r.logger.Info("withdrawal approved",
		zap.String("withdrawal_id", id.String()),
		zap.String("admin_id", p.AdminID.String()),
		zap.Time("scheduled_for", p.ScheduledFor),
	)
	return w, nil
}

func (r *WithdrawalRepository) Reject(ctx context.Context, id uuid.UUID, p repos.RejectParams) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.reject",
		attribute.String("withdrawal_id", id.String()),
		attribute.String("admin_id", p.AdminID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var w *entities.WithdrawalRequest
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		w, err = compareAndSet(ctx, tx, "reject", id, entities.WithdrawalStatusPending, `
			UPDATE withdrawal_requests
			SET status = $3, status_reason = $4, admin_notes = $5, decided_by = $6,
				decided_at = $7, processed_at = $7, updated_at = $7
			WHERE id = $1 AND status = $2
			RETURNING `+withdrawalColumns,
			id, entities.WithdrawalStatusPending, entities.WithdrawalStatusRejected,
			p.Reason, p.Notes, p.AdminID, p.DecidedAt,
		)
		if err != nil {
			return err
		}
		return r.releaseCoupon(ctx, tx, id, p.DecidedAt)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("withdrawal rejected",
		zap.String("withdrawal_id", id.String()),
		zap.String("admin_id", p.AdminID.String()),
		zap.String("reason", p.Reason),
	)
	return w, nil
}

func (r *WithdrawalRepository) Cancel(ctx context.Context, id, userID uuid.UUID, at time.Time) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.cancel",
		attribute.String("withdrawal_id", id.String()),
		attribute.String("user_id", userID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var w entities.WithdrawalRequest
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &w, `
			UPDATE withdrawal_requests
			SET status = $4, processed_at = $5, updated_at = $5
			WHERE id = $1 AND user_id = $2 AND status = $3
			RETURNING `+withdrawalColumns,
			id, userID, entities.WithdrawalStatusPending, entities.WithdrawalStatusCancelled, at,
		)
		if errors.Is(err, sql.ErrNoRows) {
			var owner uuid.UUID
			lookupErr := tx.GetContext(ctx, &owner, `SELECT user_id FROM withdrawal_requests WHERE id = $1`, id)
			if errors.Is(lookupErr, sql.ErrNoRows) || (lookupErr == nil && owner != userID) {
				return repos.ErrWithdrawalNotFound()
			}
			if lookupErr != nil {
				return fmt.Errorf("failed to load withdrawal owner: %w", lookupErr)
			}
			return transitionMiss(ctx, tx, "cancel", id, entities.WithdrawalStatusPending)
		}
		if err != nil {
			return fmt.Errorf("failed to cancel withdrawal: %w", err)
		}
		return r.releaseCoupon(ctx, tx, id, at)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("withdrawal cancelled", zap.String("withdrawal_id", id.String()))
	return &w, nil
}

// ClaimDue uses SKIP LOCKED so overlapping claimers split the due set
// instead of blocking on each other.
func (r *WithdrawalRepository) ClaimDue(ctx context.Context, now time.Time, limit int) (_ []*entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.claim_due",
		attribute.Int("limit", limit),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if limit <= 0 {
		limit = defaultClaimLimit
	}

	claimed := []*entities.WithdrawalRequest{}
	err = r.db.SelectContext(ctx, &claimed, `
		UPDATE withdrawal_requests
		SET status = $3, claimed_at = $1, updated_at = $1
		WHERE status = $4 AND id IN (
			SELECT id FROM withdrawal_requests
			WHERE status = $4 AND scheduled_for <= $1
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+withdrawalColumns,
		now, limit, entities.WithdrawalStatusProcessing, entities.WithdrawalStatusApproved,
	)
	if err != nil {
		r.logger.Error("failed to claim due withdrawals", zap.Error(err))
		return nil, fmt.Errorf("failed to claim due withdrawals: %w", err)
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].ScheduledFor.Before(*claimed[j].ScheduledFor)
	})
	span.SetAttributes(attribute.Int("claimed", len(claimed)))
	return claimed, nil
}

func (r *WithdrawalRepository) AttachPayoutRef(ctx context.Context, id uuid.UUID, ref string, at time.Time) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.attach_payout_ref",
		attribute.String("withdrawal_id", id.String()),
		attribute.String("payout_ref", ref),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var w entities.WithdrawalRequest
	err = r.db.GetContext(ctx, &w, `
		UPDATE withdrawal_requests
		SET external_payout_ref = $3, updated_at = $4
		WHERE id = $1 AND status = $2 AND external_payout_ref IS NULL
		RETURNING `+withdrawalColumns,
		id, entities.WithdrawalStatusProcessing, ref, at,
	)
	if errors.Is(err, sql.ErrNoRows) {
		var current struct {
			Status entities.WithdrawalStatus `db:"status"`
			Ref    *string                   `db:"external_payout_ref"`
		}
		lookupErr := r.db.GetContext(ctx, &current, `SELECT status, external_payout_ref FROM withdrawal_requests WHERE id = $1`, id)
		switch {
		case errors.Is(lookupErr, sql.ErrNoRows):
			return nil, repos.ErrWithdrawalNotFound()
		case lookupErr != nil:
			return nil, fmt.Errorf("failed to load withdrawal: %w", lookupErr)
		case current.Status != entities.WithdrawalStatusProcessing:
			return nil, repos.NewStateConflict("attach payout ref to", entities.WithdrawalStatusProcessing, current.Status)
		}
		return nil, apperrors.NewConflictError("withdrawal already has a payout reference")
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.NewDuplicateError("payout reference already attached to another withdrawal")
		}
		return nil, fmt.Errorf("failed to attach payout ref: %w", err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.complete",
		attribute.String("withdrawal_id", id.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	return compareAndSet(ctx, r.db, "complete", id, entities.WithdrawalStatusProcessing, `
		UPDATE withdrawal_requests
		SET status = $3, processed_at = $4, updated_at = $4, next_poll_at = NULL
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		id, entities.WithdrawalStatusProcessing, entities.WithdrawalStatusCompleted, at,
	)
}

func (r *WithdrawalRepository) Fail(ctx context.Context, id uuid.UUID, reason string, at time.Time) (_ *entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.fail",
		attribute.String("withdrawal_id", id.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("failure reason is required")
	}
	return compareAndSet(ctx, r.db, "fail", id, entities.WithdrawalStatusProcessing, `
		UPDATE withdrawal_requests
		SET status = $3, status_reason = $4, processed_at = $5, updated_at = $5, next_poll_at = NULL
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		id, entities.WithdrawalStatusProcessing, entities.WithdrawalStatusFailed, reason, at,
	)
}

func (r *WithdrawalRepository) ListInFlight(ctx context.Context, now time.Time, limit int) (_ []*entities.WithdrawalRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.list_in_flight")
	defer func() { tracing.EndSpan(span, err) }()

	if limit <= 0 {
		limit = defaultClaimLimit
	}
	inFlight := []*entities.WithdrawalRequest{}
	err = r.db.SelectContext(ctx, &inFlight, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE status = $1 AND (next_poll_at IS NULL OR next_poll_at <= $2)
		ORDER BY COALESCE(claimed_at, updated_at)
		LIMIT $3`,
		entities.WithdrawalStatusProcessing, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight withdrawals: %w", err)
	}
	return inFlight, nil
}

func (r *WithdrawalRepository) SchedulePoll(ctx context.Context, id uuid.UUID, attempts int, next time.Time) (err error) {
	ctx, span := tracing.StartSpan(ctx, withdrawalTracer, "withdrawal_repo.schedule_poll",
		attribute.String("withdrawal_id", id.String()),
		attribute.Int("attempts", attempts),
	)
	defer func() { tracing.EndSpan(span, err) }()

	result, err := r.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET poll_attempts = $3, next_poll_at = $4
		WHERE id = $1 AND status = $2`,
		id, entities.WithdrawalStatusProcessing, attempts, next,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return transitionMiss(ctx, r.db, "schedule poll for", id, entities.WithdrawalStatusProcessing)
	}
	return nil
}
