package entities

import (
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	AuditWithdrawalCreated    AuditEventType = "withdrawal.created"
	AuditWithdrawalApproved   AuditEventType = "withdrawal.approved"
	AuditWithdrawalRejected   AuditEventType = "withdrawal.rejected"
	AuditWithdrawalCancelled  AuditEventType = "withdrawal.cancelled"
	AuditWithdrawalProcessing AuditEventType = "withdrawal.processing"
	AuditWithdrawalSubmitted  AuditEventType = "withdrawal.submitted"
	AuditWithdrawalCompleted  AuditEventType = "withdrawal.completed"
	AuditWithdrawalFailed     AuditEventType = "withdrawal.failed"
	AuditCouponReserved       AuditEventType = "coupon.reserved"
	AuditCouponReleased       AuditEventType = "coupon.released"
)

// AuditEvent describes one state change for the audit/notification sink.
// ActorID is nil for system actors (scheduler, reconciliation).
type AuditEvent struct {
	ID           uuid.UUID              `json:"id"`
	Type         AuditEventType         `json:"type"`
	WithdrawalID uuid.UUID              `json:"withdrawal_id"`
	UserID       uuid.UUID              `json:"user_id"`
	ActorID      *uuid.UUID             `json:"actor_id,omitempty"`
	FromStatus   WithdrawalStatus       `json:"from_status,omitempty"`
	ToStatus     WithdrawalStatus       `json:"to_status,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// NewAuditEvent builds an event for w
func NewAuditEvent(eventType AuditEventType, w *WithdrawalRequest, from WithdrawalStatus, actor *uuid.UUID) AuditEvent {
	return AuditEvent{
		ID:           uuid.New(),
		Type:         eventType,
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		ActorID:      actor,
		FromStatus:   from,
		ToStatus:     w.Status,
		OccurredAt:   time.Now().UTC(),
	}
}
