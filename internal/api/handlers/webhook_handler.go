package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/workers/reconciliation"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/metrics"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	maxWebhookBody = 1 << 20
)

// SignatureVerifier checks a webhook signature over the raw body
type SignatureVerifier interface {
	Validate(payload []byte, signature, timestamp string) error
}

// NotificationHandler applies a verified payout notification
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n entities.PayoutNotification) (*reconciliation.Outcome, error)
}

// WebhookHandler receives payout status pushes from the rail
type WebhookHandler struct {
	verifier SignatureVerifier
	handler  NotificationHandler
	logger   *logger.Logger
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(verifier SignatureVerifier, handler NotificationHandler, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		handler:  handler,
		logger:   logger,
	}
}

// PayoutNotification verifies and applies one notification. Redeliveries of
// an applied notification answer 200 with duplicate set.
func (h *WebhookHandler) PayoutNotification(c *gin.Context) {
	log := requestLogger(c, h.logger)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		respondBadRequest(c, "Failed to read request body")
		return
	}

	if err := h.verifier.Validate(payload, c.GetHeader(HeaderSignature), c.GetHeader(HeaderTimestamp)); err != nil {
		metrics.WebhookNotificationsTotal.WithLabelValues("unauthorized").Inc()
		log.Warnw("Webhook signature rejected", "error", err)
		respondUnauthorized(c, "Invalid webhook signature")
		return
	}

	var n entities.PayoutNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		respondBadRequest(c, "Invalid notification payload")
		return
	}
	if err := binding.Validator.ValidateStruct(&n); err != nil {
		respondBadRequest(c, "Invalid notification payload: "+err.Error())
		return
	}

	outcome, err := h.handler.HandleNotification(c.Request.Context(), n)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	log.Infow("Payout notification processed",
		"notification_id", n.ID,
		"payout_ref", n.Ref,
		"payout_status", n.Status,
		"withdrawal_id", outcome.WithdrawalID.String(),
		"converged", outcome.Converged,
		"duplicate", outcome.Duplicate)
	c.JSON(http.StatusOK, outcome)
}
