package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/pkg/logger"
)

// WithdrawalHandlers serves the user-facing withdrawal endpoints
type WithdrawalHandlers struct {
	withdrawalService WithdrawalService
	logger            *logger.Logger
}

// WithdrawalService interface for withdrawal operations
type WithdrawalService interface {
	Quote(ctx context.Context, userID uuid.UUID, req *entities.QuoteRequest) (*entities.QuoteResponse, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, req *entities.CreateWithdrawalRequest) (*entities.WithdrawalRequest, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*entities.WithdrawalRequest, error)
	List(ctx context.Context, userID uuid.UUID, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error)
	Cancel(ctx context.Context, userID, id uuid.UUID) (*entities.WithdrawalRequest, error)
}

// NewWithdrawalHandlers creates new withdrawal handlers
func NewWithdrawalHandlers(withdrawalService WithdrawalService, logger *logger.Logger) *WithdrawalHandlers {
	return &WithdrawalHandlers{
		withdrawalService: withdrawalService,
		logger:            logger,
	}
}

func (h *WithdrawalHandlers) currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "User not authenticated")
		return uuid.Nil, false
	}
	return userID, true
}

// Quote previews the fee and discount for an amount without persisting anything
func (h *WithdrawalHandlers) Quote(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req entities.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	quote, err := h.withdrawalService.Quote(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// Create submits a new withdrawal request for approval
func (h *WithdrawalHandlers) Create(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req entities.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	w, err := h.withdrawalService.RequestWithdrawal(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	requestLogger(c, h.logger).ForWithdrawal(w.ID.String()).Infow("Withdrawal requested",
		"method", w.Method,
		"net_amount", w.NetAmount)
	c.JSON(http.StatusCreated, entities.NewWithdrawalResponse(w))
}

// List returns the caller's withdrawals, newest first
func (h *WithdrawalHandlers) List(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}

	items, err := h.withdrawalService.List(c.Request.Context(), userID, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toResponses(items, filter))
}

// Get returns one of the caller's withdrawals
func (h *WithdrawalHandlers) Get(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	w, err := h.withdrawalService.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entities.NewWithdrawalResponse(w))
}

// Cancel withdraws a request that is still waiting for review
func (h *WithdrawalHandlers) Cancel(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	w, err := h.withdrawalService.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entities.NewWithdrawalResponse(w))
}
