package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/pixpay/settlement_service/pkg/money"
)

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// CreateWithdrawalRequest is the body of POST /withdrawals
type CreateWithdrawalRequest struct {
	Amount       string           `json:"amount" binding:"required"`
	Method       WithdrawalMethod `json:"method" binding:"required"`
	PixKey       *string          `json:"pix_key,omitempty"`
	PixKeyType   *PixKeyType      `json:"pix_key_type,omitempty"`
	ChainAddress *string          `json:"chain_address,omitempty"`
	CouponCode   *string          `json:"coupon_code,omitempty"`
}

// QuoteRequest is the body of POST /withdrawals/quote
type QuoteRequest struct {
	Amount     string           `json:"amount" binding:"required"`
	Method     WithdrawalMethod `json:"method" binding:"required"`
	CouponCode *string          `json:"coupon_code,omitempty"`
}

// QuoteResponse previews the fee breakdown without creating anything
type QuoteResponse struct {
	Amount             string  `json:"amount"`
	Fee                string  `json:"fee"`
	FeeRate            string  `json:"fee_rate"`
	DiscountAmount     string  `json:"discount_amount"`
	NetAmount          string  `json:"net_amount"`
	CouponCode         *string `json:"coupon_code,omitempty"`
	DiscountPercentage int     `json:"discount_percentage"`
}

// DecisionRequest is the body of POST /admin/withdrawals/:id/decision
type DecisionRequest struct {
	Approve           *bool   `json:"approve" binding:"required"`
	Notes             *string `json:"notes,omitempty"`
	ExternalPayoutRef *string `json:"external_payout_ref,omitempty"`
}

// WithdrawalResponse renders a withdrawal with decimal amount strings
type WithdrawalResponse struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	Amount            string           `json:"amount"`
	Fee               string           `json:"fee"`
	DiscountAmount    string           `json:"discount_amount"`
	NetAmount         string           `json:"net_amount"`
	Method            WithdrawalMethod `json:"method"`
	Destination       Destination      `json:"destination"`
	Status            WithdrawalStatus `json:"status"`
	StatusReason      *string          `json:"status_reason,omitempty"`
	CouponCode        *string          `json:"coupon_code,omitempty"`
	AdminNotes        *string          `json:"admin_notes,omitempty"`
	ExternalPayoutRef *string          `json:"external_payout_ref,omitempty"`
	RequestedAt       time.Time        `json:"requested_at"`
	ScheduledFor      *time.Time       `json:"scheduled_for,omitempty"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewWithdrawalResponse converts a stored request for the API
func NewWithdrawalResponse(w *WithdrawalRequest) WithdrawalResponse {
	return WithdrawalResponse{
		ID:                w.ID,
		UserID:            w.UserID,
		Amount:            money.FormatCents(w.Amount),
		Fee:               money.FormatCents(w.Fee),
		DiscountAmount:    money.FormatCents(w.DiscountAmount),
		NetAmount:         money.FormatCents(w.NetAmount),
		Method:            w.Method,
		Destination:       w.Destination,
		Status:            w.Status,
		StatusReason:      w.StatusReason,
		CouponCode:        w.CouponCode,
		AdminNotes:        w.AdminNotes,
		ExternalPayoutRef: w.ExternalPayoutRef,
		RequestedAt:       w.RequestedAt,
		ScheduledFor:      w.ScheduledFor,
		ProcessedAt:       w.ProcessedAt,
		UpdatedAt:         w.UpdatedAt,
	}
}

// ListWithdrawalsResponse is a page of withdrawals
type ListWithdrawalsResponse struct {
	Items  []WithdrawalResponse `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}
