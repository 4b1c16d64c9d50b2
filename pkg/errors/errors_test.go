package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictKinds(t *testing.T) {
	invalid := NewInvalidStateError("withdrawal is APPROVED")
	conflict := NewConflictError("status changed")

	assert.True(t, IsConflict(invalid))
	assert.True(t, IsConflict(conflict))
	assert.True(t, errors.Is(invalid, ErrInvalidState))
	assert.False(t, errors.Is(invalid, ErrStateConflict))
	assert.Equal(t, http.StatusConflict, GetStatusCode(invalid))
}

func TestIsTypeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("failed to approve: %w", NewConflictError("lost race"))

	assert.True(t, IsConflict(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, CodeStateConflict, GetCode(err))
}

func TestExternalError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewExternalError("coldwallet", cause, true)

	assert.True(t, IsExternal(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "coldwallet", err.Details["service"])
	assert.Equal(t, http.StatusBadGateway, GetStatusCode(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTypeTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, ErrorTypeValidation, ClassifyError(NewValidationError("bad")))
	assert.Equal(t, ErrorTypeRateLimit, ClassifyHTTPError(http.StatusTooManyRequests))
	assert.Equal(t, ErrorTypeTransient, ClassifyHTTPError(http.StatusServiceUnavailable))
	assert.Equal(t, ErrorTypeValidation, ClassifyHTTPError(http.StatusUnprocessableEntity))
	assert.True(t, ShouldRetry(context.DeadlineExceeded))
	assert.False(t, ShouldRetry(NewValidationError("bad")))
}

func TestNonAppErrorDefaults(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, ErrorTypeInternal, GetType(err))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(err))
	assert.False(t, IsRetryable(err))
}

func TestIsIndeterminate(t *testing.T) {
	assert.True(t, IsIndeterminate(NewExternalError("payout", errors.New("circuit breaker is open"), true)))
	assert.True(t, IsIndeterminate(NewExternalError("payout", context.DeadlineExceeded, false)))
	assert.True(t, IsIndeterminate(fmt.Errorf("submit: %w", context.DeadlineExceeded)))
	assert.False(t, IsIndeterminate(NewExternalError("payout", errors.New("status 422"), false)))
	assert.False(t, IsIndeterminate(nil))
}
