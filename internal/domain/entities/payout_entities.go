package entities

import (
	"github.com/google/uuid"
)

// PayoutStatus is the status the payout rail reports for a submitted payout
type PayoutStatus string

const (
	PayoutStatusSuccess    PayoutStatus = "SUCCESS"
	PayoutStatusFailed     PayoutStatus = "FAILED"
	PayoutStatusCancelled  PayoutStatus = "CANCELLED"
	PayoutStatusExpired    PayoutStatus = "EXPIRED"
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
)

func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutStatusSuccess, PayoutStatusFailed, PayoutStatusCancelled,
		PayoutStatusExpired, PayoutStatusPending, PayoutStatusProcessing:
		return true
	}
	return false
}

// IsTerminal reports whether the rail will not change this status again
func (s PayoutStatus) IsTerminal() bool {
	switch s {
	case PayoutStatusSuccess, PayoutStatusFailed, PayoutStatusCancelled, PayoutStatusExpired:
		return true
	}
	return false
}

// TargetStatus maps a terminal payout status onto the withdrawal status it
// settles to. ok is false for statuses that need another poll.
func (s PayoutStatus) TargetStatus() (WithdrawalStatus, bool) {
	switch s {
	case PayoutStatusSuccess:
		return WithdrawalStatusCompleted, true
	case PayoutStatusFailed, PayoutStatusCancelled, PayoutStatusExpired:
		return WithdrawalStatusFailed, true
	}
	return "", false
}

// PayoutSubmission is what is sent to the rail to start a payout
type PayoutSubmission struct {
	IdempotencyKey uuid.UUID        `json:"idempotency_key"`
	Method         WithdrawalMethod `json:"method"`
	Destination    Destination      `json:"destination"`
	NetAmount      int64            `json:"amount"`
}

// NewPayoutSubmission builds the submission for w. The withdrawal id is the
// idempotency key, so every resubmission resolves to the same payout.
func NewPayoutSubmission(w *WithdrawalRequest) PayoutSubmission {
	return PayoutSubmission{
		IdempotencyKey: w.ID,
		Method:         w.Method,
		Destination:    w.Destination,
		NetAmount:      w.NetAmount,
	}
}

// PayoutStatusResult is the rail's answer to a status query
type PayoutStatusResult struct {
	Ref    string       `json:"payout_ref"`
	Status PayoutStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// PayoutNotification is a status push from the rail's webhook
type PayoutNotification struct {
	ID     string       `json:"id" binding:"required"`
	Ref    string       `json:"payout_ref" binding:"required"`
	Status PayoutStatus `json:"status" binding:"required"`
	Reason string       `json:"reason,omitempty"`
}
