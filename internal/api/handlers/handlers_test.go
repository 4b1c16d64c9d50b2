package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pixpay/settlement_service/internal/api/middleware"
	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/workers/reconciliation"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/logger"
)

type MockWithdrawalService struct {
	mock.Mock
}

func (m *MockWithdrawalService) Quote(ctx context.Context, userID uuid.UUID, req *entities.QuoteRequest) (*entities.QuoteResponse, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.QuoteResponse), args.Error(1)
}

func (m *MockWithdrawalService) RequestWithdrawal(ctx context.Context, userID uuid.UUID, req *entities.CreateWithdrawalRequest) (*entities.WithdrawalRequest, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.WithdrawalRequest), args.Error(1)
}

func (m *MockWithdrawalService) Get(ctx context.Context, userID, id uuid.UUID) (*entities.WithdrawalRequest, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.WithdrawalRequest), args.Error(1)
}

func (m *MockWithdrawalService) List(ctx context.Context, userID uuid.UUID, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.WithdrawalRequest), args.Error(1)
}

func (m *MockWithdrawalService) Cancel(ctx context.Context, userID, id uuid.UUID) (*entities.WithdrawalRequest, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.WithdrawalRequest), args.Error(1)
}

func newRouter(userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.KeyRequestID, "req-1")
		if userID != uuid.Nil {
			c.Set(middleware.KeyUserID, userID)
		}
		c.Next()
	})
	return r
}

func TestRespondErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation", apperrors.NewValidationError("amount must be positive"), http.StatusBadRequest, apperrors.CodeValidation, "amount must be positive"},
		{"coupon", apperrors.NewCouponError("COUPON_EXPIRED"), http.StatusBadRequest, apperrors.CodeCouponRejected, ""},
		{"not found", apperrors.NewNotFoundError("withdrawal request"), http.StatusNotFound, apperrors.CodeNotFound, ""},
		{"conflict", apperrors.NewConflictError("lost race"), http.StatusConflict, apperrors.CodeStateConflict, "lost race"},
		{"invalid state", apperrors.NewInvalidStateError("already approved"), http.StatusConflict, apperrors.CodeInvalidState, "already approved"},
		{"external", apperrors.NewExternalError("payout", errors.New("boom"), true), http.StatusBadGateway, apperrors.CodeExternal, ""},
		{"unauthorized", apperrors.NewUnauthorizedError("no"), http.StatusUnauthorized, apperrors.CodeUnauthorized, "no"},
		{"forbidden", apperrors.NewForbiddenError("no"), http.StatusForbidden, apperrors.CodeForbidden, "no"},
		{"wrapped", fmt.Errorf("outer: %w", apperrors.NewNotFoundError("coupon")), http.StatusNotFound, apperrors.CodeNotFound, ""},
		{"plain error is opaque", errors.New("pq: connection refused"), http.StatusInternalServerError, apperrors.CodeInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(uuid.Nil)
			r.GET("/", func(c *gin.Context) { respondError(c, logger.Nop(), tt.err) })

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.status, rec.Code)
			var body entities.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
			assert.NotContains(t, body.Message, "pq:")
		})
	}
}

func TestListParsesFilter(t *testing.T) {
	userID := uuid.New()
	svc := new(MockWithdrawalService)
	h := NewWithdrawalHandlers(svc, logger.Nop())

	approved := entities.WithdrawalStatusApproved
	expected := entities.WithdrawalFilter{Status: &approved, Limit: entities.MaxPageLimit, Offset: 40}
	svc.On("List", mock.Anything, userID, expected).Return([]*entities.WithdrawalRequest{}, nil)

	r := newRouter(userID)
	r.GET("/withdrawals", h.List)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/withdrawals?status=APPROVED&limit=500&offset=40", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page entities.ListWithdrawalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
	assert.Equal(t, entities.MaxPageLimit, page.Limit)
	assert.Equal(t, 40, page.Offset)
	svc.AssertExpectations(t)
}

func TestListRejectsBadPaging(t *testing.T) {
	svc := new(MockWithdrawalService)
	h := NewWithdrawalHandlers(svc, logger.Nop())
	r := newRouter(uuid.New())
	r.GET("/withdrawals", h.List)

	for _, q := range []string{"status=done", "limit=abc", "offset=-1"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/withdrawals?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlersRequireUser(t *testing.T) {
	svc := new(MockWithdrawalService)
	h := NewWithdrawalHandlers(svc, logger.Nop())
	r := newRouter(uuid.Nil)
	r.GET("/withdrawals/:id", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/withdrawals/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubVerifier struct{ err error }

func (s stubVerifier) Validate([]byte, string, string) error { return s.err }

type stubNotifications struct {
	got []entities.PayoutNotification
}

func (s *stubNotifications) HandleNotification(_ context.Context, n entities.PayoutNotification) (*reconciliation.Outcome, error) {
	s.got = append(s.got, n)
	return &reconciliation.Outcome{Status: entities.WithdrawalStatusCompleted, Converged: true}, nil
}

func TestWebhookValidatesBeforeApplying(t *testing.T) {
	tests := []struct {
		name     string
		verifier stubVerifier
		body     string
		status   int
		applied  int
	}{
		{"bad signature", stubVerifier{err: errors.New("signature verification failed")}, `{"id":"e1","payout_ref":"p1","status":"SUCCESS"}`, http.StatusUnauthorized, 0},
		{"malformed json", stubVerifier{}, `{"id":`, http.StatusBadRequest, 0},
		{"missing ref", stubVerifier{}, `{"id":"e1","status":"SUCCESS"}`, http.StatusBadRequest, 0},
		{"applied", stubVerifier{}, `{"id":"e1","payout_ref":"p1","status":"SUCCESS"}`, http.StatusOK, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifications := &stubNotifications{}
			h := NewWebhookHandler(tt.verifier, notifications, logger.Nop())
			r := newRouter(uuid.Nil)
			r.POST("/webhooks/payouts", h.PayoutNotification)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payouts", strings.NewReader(tt.body))
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Len(t, notifications.got, tt.applied)
		})
	}
}
