// Package approval records admin decisions on pending withdrawals.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	"github.com/pixpay/settlement_service/internal/domain/services/settlement"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/metrics"
)

// DefaultRejectReason is stored when rejections may omit a reason
const DefaultRejectReason = "rejected by administrator"

// AuditSink receives lifecycle events. Record must not block.
type AuditSink interface {
	Record(ctx context.Context, event entities.AuditEvent)
}

// Config controls decision rules
type Config struct {
	RequireRejectReason bool
}

// Decision is one admin verdict on a PENDING request
type Decision struct {
	RequestID uuid.UUID
	AdminID   uuid.UUID
	Approve   bool
	Notes     *string
	// ExternalPayoutRef marks a payout the admin already made by hand
	ExternalPayoutRef *string
}

// Service applies decisions through compare-and-set transitions
type Service struct {
	withdrawals repositories.WithdrawalRepository
	policy      settlement.Policy
	audit       AuditSink
	cfg         Config
	logger      *logger.Logger
	now         func() time.Time
}

// NewService creates a new approval service
func NewService(withdrawals repositories.WithdrawalRepository, policy settlement.Policy, audit AuditSink, cfg Config, logger *logger.Logger) *Service {
	return &Service{
		withdrawals: withdrawals,
		policy:      policy,
		audit:       audit,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// Decide approves or rejects a PENDING request. A request that moved on
// before the decision landed yields a conflict and is left untouched.
func (s *Service) Decide(ctx context.Context, d Decision) (*entities.WithdrawalRequest, error) {
	current, err := s.withdrawals.GetByID(ctx, d.RequestID)
	if err != nil {
		return nil, err
	}
	if current.Status != entities.WithdrawalStatusPending {
		return nil, apperrors.NewInvalidStateError(
			fmt.Sprintf("withdrawal is %s, only PENDING requests can be decided", current.Status)).
			WithDetail("current_status", string(current.Status))
	}

	notes := trimmed(d.Notes)
	now := s.now()

	var (
		w     *entities.WithdrawalRequest
		op    string
		event entities.AuditEventType
	)
	if d.Approve {
		op, event = "approve", entities.AuditWithdrawalApproved
		w, err = s.withdrawals.Approve(ctx, d.RequestID, repositories.ApproveParams{
			AdminID:      d.AdminID,
			Notes:        notes,
			ScheduledFor: s.policy.NextSettlement(now),
			PayoutRef:    trimmed(d.ExternalPayoutRef),
			DecidedAt:    now,
		})
	} else {
		op, event = "reject", entities.AuditWithdrawalRejected
		reason := DefaultRejectReason
		if notes != nil {
			reason = *notes
		} else if s.cfg.RequireRejectReason {
			return nil, apperrors.NewValidationError("a reason is required to reject a withdrawal")
		}
		w, err = s.withdrawals.Reject(ctx, d.RequestID, repositories.RejectParams{
			AdminID:   d.AdminID,
			Reason:    reason,
			Notes:     notes,
			DecidedAt: now,
		})
	}
	if err != nil {
		if apperrors.IsConflict(err) {
			metrics.RecordConflict(op)
			s.logger.CtxWarn(ctx, "Decision lost a concurrent transition",
				"withdrawal_id", d.RequestID.String(),
				"admin_id", d.AdminID.String(),
				"operation", op,
				"error", err)
		}
		return nil, err
	}

	metrics.RecordTransition(string(w.Status))
	s.record(ctx, event, w, d)

	s.logger.CtxInfo(ctx, "Withdrawal decided",
		"withdrawal_id", w.ID.String(),
		"admin_id", d.AdminID.String(),
		"status", w.Status,
		"scheduled_for", w.ScheduledFor,
		"manual_payout", w.HasPayoutRef(),
	)
	return w, nil
}

func (s *Service) record(ctx context.Context, eventType entities.AuditEventType, w *entities.WithdrawalRequest, d Decision) {
	admin := d.AdminID
	event := entities.NewAuditEvent(eventType, w, entities.WithdrawalStatusPending, &admin)
	event.Details = map[string]interface{}{}
	if w.StatusReason != nil {
		event.Details["reason"] = *w.StatusReason
	}
	if w.ScheduledFor != nil {
		event.Details["scheduled_for"] = w.ScheduledFor.Format(time.RFC3339)
	}
	if w.HasPayoutRef() {
		event.Details["external_payout_ref"] = *w.ExternalPayoutRef
	}
	s.audit.Record(ctx, event)

	if eventType == entities.AuditWithdrawalRejected && w.CouponID != nil {
		released := entities.NewAuditEvent(entities.AuditCouponReleased, w, entities.WithdrawalStatusPending, &admin)
		released.Details = map[string]interface{}{"coupon_code": *w.CouponCode}
		s.audit.Record(ctx, released)
	}
}

// Queue lists requests for admin review. It defaults to PENDING.
func (s *Service) Queue(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error) {
	if filter.Status == nil {
		pending := entities.WithdrawalStatusPending
		filter.Status = &pending
	}
	if !filter.Status.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid status: %s", *filter.Status))
	}
	return s.withdrawals.ListByStatus(ctx, filter.Normalize())
}
