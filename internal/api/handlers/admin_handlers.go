package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/services/approval"
	"github.com/pixpay/settlement_service/internal/workers/reconciliation"
	settlementbatch "github.com/pixpay/settlement_service/internal/workers/settlement_batch"
	"github.com/pixpay/settlement_service/pkg/logger"
)

// ApprovalService decides PENDING requests
type ApprovalService interface {
	Decide(ctx context.Context, d approval.Decision) (*entities.WithdrawalRequest, error)
	Queue(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error)
}

// CouponAdmin manages coupon lifecycle
type CouponAdmin interface {
	Deactivate(ctx context.Context, code string) error
	ListActive(ctx context.Context) ([]*entities.DiscountCoupon, error)
}

// SettlementRunner triggers a settlement batch on demand
type SettlementRunner interface {
	RunOnce(ctx context.Context) (settlementbatch.BatchResult, error)
}

// ReconciliationRunner triggers a polling pass on demand
type ReconciliationRunner interface {
	RunOnce(ctx context.Context) (reconciliation.RunResult, error)
}

// AdminHandlers serves the back-office endpoints
type AdminHandlers struct {
	approvals      ApprovalService
	coupons        CouponAdmin
	settlement     SettlementRunner
	reconciliation ReconciliationRunner
	logger         *logger.Logger
}

// NewAdminHandlers creates new admin handlers
func NewAdminHandlers(
	approvals ApprovalService,
	coupons CouponAdmin,
	settlement SettlementRunner,
	reconciliation ReconciliationRunner,
	logger *logger.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		approvals:      approvals,
		coupons:        coupons,
		settlement:     settlement,
		reconciliation: reconciliation,
		logger:         logger,
	}
}

// Queue lists requests awaiting review. ?status= overrides the PENDING default.
func (h *AdminHandlers) Queue(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	items, err := h.approvals.Queue(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toResponses(items, filter))
}

// Decide approves or rejects a PENDING request
func (h *AdminHandlers) Decide(c *gin.Context) {
	adminID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "User not authenticated")
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req entities.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	w, err := h.approvals.Decide(c.Request.Context(), approval.Decision{
		RequestID:         id,
		AdminID:           adminID,
		Approve:           *req.Approve,
		Notes:             req.Notes,
		ExternalPayoutRef: req.ExternalPayoutRef,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	requestLogger(c, h.logger).ForWithdrawal(w.ID.String()).Infow("Withdrawal decided",
		"admin_id", adminID.String(),
		"status", w.Status)
	c.JSON(http.StatusOK, entities.NewWithdrawalResponse(w))
}

// RunSettlement runs one settlement batch and reports its counts
func (h *AdminHandlers) RunSettlement(c *gin.Context) {
	result, err := h.settlement.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunReconciliation runs one polling pass and reports its counts
func (h *AdminHandlers) RunReconciliation(c *gin.Context) {
	result, err := h.reconciliation.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListCoupons lists enabled coupons
func (h *AdminHandlers) ListCoupons(c *gin.Context) {
	coupons, err := h.coupons.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": coupons})
}

// DeactivateCoupon soft-disables a coupon. Existing reservations are kept.
func (h *AdminHandlers) DeactivateCoupon(c *gin.Context) {
	code := c.Param("code")
	if err := h.coupons.Deactivate(c.Request.Context(), code); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":      entities.NormalizeCouponCode(code),
		"is_active": false,
	})
}
