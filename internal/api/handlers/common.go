package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixpay/settlement_service/internal/api/middleware"
	"github.com/pixpay/settlement_service/internal/domain/entities"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/tracing"
)

// getUserID extracts the authenticated user id set by the auth middleware
func getUserID(c *gin.Context) (uuid.UUID, error) {
	userIDVal, exists := c.Get(middleware.KeyUserID)
	if !exists {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}

	switch v := userIDVal.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	default:
		return uuid.Nil, fmt.Errorf("invalid user ID type in context")
	}
}

// requestLogger returns the request-scoped logger, falling back to base
func requestLogger(c *gin.Context, base *logger.Logger) *logger.Logger {
	if v, ok := c.Get(middleware.KeyLogger); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return base
}

// respondError maps an AppError onto its HTTP status and error body.
// Errors outside the taxonomy are reported as opaque internal errors.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.GetStatusCode(err)
	body := entities.ErrorResponse{
		Code:    apperrors.CodeInternal,
		Message: "internal error",
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type != apperrors.ErrorTypeInternal {
		body.Code = appErr.Code
		body.Message = appErr.Message
		body.Details = appErr.Details
	}
	if status >= http.StatusInternalServerError {
		requestLogger(c, log).Errorw("Request failed", "status", status, "error", err)
		if traceID := tracing.GetTraceIDFromContext(c.Request.Context()); traceID != "" {
			details := map[string]string{"trace_id": traceID}
			for k, v := range body.Details {
				details[k] = v
			}
			body.Details = details
		}
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

// respondBadRequest sends a validation error for malformed input
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, entities.ErrorResponse{
		Code:    apperrors.CodeValidation,
		Message: message,
	})
}

// respondUnauthorized sends an unauthorized error
func respondUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, entities.ErrorResponse{
		Code:    apperrors.CodeUnauthorized,
		Message: message,
	})
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid withdrawal id")
		return uuid.Nil, false
	}
	return id, true
}

// parseFilter reads ?status=, ?limit= and ?offset=
func parseFilter(c *gin.Context) (entities.WithdrawalFilter, bool) {
	var filter entities.WithdrawalFilter
	if raw := c.Query("status"); raw != "" {
		status := entities.WithdrawalStatus(raw)
		if !status.IsValid() {
			respondBadRequest(c, fmt.Sprintf("invalid status: %s", raw))
			return filter, false
		}
		filter.Status = &status
	}
	params := []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}}
	for _, p := range params {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondBadRequest(c, fmt.Sprintf("invalid %s: %s", p.name, raw))
			return filter, false
		}
		*p.dst = n
	}
	return filter.Normalize(), true
}

func toResponses(items []*entities.WithdrawalRequest, filter entities.WithdrawalFilter) entities.ListWithdrawalsResponse {
	out := entities.ListWithdrawalsResponse{
		Items:  make([]entities.WithdrawalResponse, 0, len(items)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, w := range items {
		out.Items = append(out.Items, entities.NewWithdrawalResponse(w))
	}
	return out
}
