package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeTimeout      ErrorType = "timeout"
	// ErrorTypeExternal covers the payout rail being unreachable or
	// answering with something we cannot interpret.
	ErrorTypeExternal  ErrorType = "external"
	ErrorTypeTransient ErrorType = "transient"
)

// Error codes surfaced to API clients
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeCouponRejected = "COUPON_REJECTED"
	CodeNotFound       = "NOT_FOUND"
	CodeStateConflict  = "STATE_CONFLICT"
	CodeInvalidState   = "INVALID_STATE"
	CodeDuplicate      = "DUPLICATE_ENTRY"
	CodeExternal       = "EXTERNAL_SERVICE_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeInternal       = "INTERNAL_ERROR"
)

// AppError represents an application error with additional context
type AppError struct {
	Type       ErrorType         `json:"type"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Err        error             `json:"-"`
	Retryable  bool              `json:"retryable"`
	StatusCode int               `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on code and type so sentinels can be compared with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons
var (
	ErrValidation    = &AppError{Type: ErrorTypeValidation, Code: CodeValidation}
	ErrNotFound      = &AppError{Type: ErrorTypeNotFound, Code: CodeNotFound}
	ErrStateConflict = &AppError{Type: ErrorTypeConflict, Code: CodeStateConflict}
	ErrInvalidState  = &AppError{Type: ErrorTypeConflict, Code: CodeInvalidState}
	ErrDuplicate     = &AppError{Type: ErrorTypeConflict, Code: CodeDuplicate}
	ErrExternal      = &AppError{Type: ErrorTypeExternal, Code: CodeExternal}
)

// New creates a new AppError
func New(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		StatusCode: statusForType(errType),
	}
}

// NewValidationError reports bad input. Never retried.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, CodeValidation, message)
}

// NewCouponError reports a coupon that cannot be applied to a withdrawal.
func NewCouponError(reason string) *AppError {
	return New(ErrorTypeValidation, CodeCouponRejected, reason)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError reports a compare-and-set that found a different state.
func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, CodeStateConflict, message)
}

// NewInvalidStateError reports an operation attempted from a status that
// does not allow it. It is a conflict for every caller that checks types.
func NewInvalidStateError(message string) *AppError {
	return New(ErrorTypeConflict, CodeInvalidState, message)
}

// NewDuplicateError creates a conflict for unique constraint violations
func NewDuplicateError(message string) *AppError {
	return New(ErrorTypeConflict, CodeDuplicate, message)
}

// NewExternalError wraps a failure of an external collaborator.
func NewExternalError(service string, err error, retryable bool) *AppError {
	appErr := New(ErrorTypeExternal, CodeExternal, fmt.Sprintf("%s request failed", service))
	appErr.Err = err
	appErr.Retryable = retryable
	return appErr.WithDetail("service", service)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return New(ErrorTypeUnauthorized, CodeUnauthorized, message)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string) *AppError {
	return New(ErrorTypeForbidden, CodeForbidden, message)
}

// NewInternalError creates a new internal error
func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, CodeInternal, message)
}

// IsType reports whether any AppError in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

func IsValidation(err error) bool { return IsType(err, ErrorTypeValidation) }
func IsConflict(err error) bool   { return IsType(err, ErrorTypeConflict) }
func IsNotFound(err error) bool   { return IsType(err, ErrorTypeNotFound) }
func IsExternal(err error) bool   { return IsType(err, ErrorTypeExternal) }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetType returns the error type
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetCode returns the error code
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.StatusCode != 0 {
			return appErr.StatusCode
		}
		return statusForType(appErr.Type)
	}
	return http.StatusInternalServerError
}

func statusForType(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeExternal, ErrorTypeTransient:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
