package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/infrastructure/config"
	"github.com/pixpay/settlement_service/internal/infrastructure/di"
	"github.com/pixpay/settlement_service/internal/workers/reconciliation"
	settlementbatch "github.com/pixpay/settlement_service/internal/workers/settlement_batch"
	"github.com/pixpay/settlement_service/pkg/auth"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/webhook"
)

const (
	jwtSecret     = "test-jwt-secret"
	jwtIssuer     = "settlement_service"
	webhookSecret = "whsec_test"
)

// fakeRail accepts every submission and reports a configurable status
type fakeRail struct {
	mu     sync.Mutex
	status string
	refs   map[string]string // idempotency key -> ref
}

func (f *fakeRail) setStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeRail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payouts":
		key := r.Header.Get("Idempotency-Key")
		ref, ok := f.refs[key]
		if !ok {
			ref = "PAY-" + key[:8]
			f.refs[key] = ref
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"payout_ref": ref, "status": "PENDING"})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payouts/"):
		ref := strings.TrimPrefix(r.URL.Path, "/v1/payouts/")
		_ = json.NewEncoder(w).Encode(map[string]string{"payout_ref": ref, "status": f.status})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	t         *testing.T
	router    *gin.Engine
	container *di.Container
	rail      *fakeRail
	userID    uuid.UUID
	adminID   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rail := &fakeRail{status: "PENDING", refs: map[string]string{}}
	srv := httptest.NewServer(rail)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{AllowedOrigins: []string{"*"}, RateLimitPerMin: 10000},
		Database:    config.DatabaseConfig{Driver: "memory"},
		JWT:         config.JWTConfig{Secret: jwtSecret, Issuer: jwtIssuer},
		Payout: config.PayoutConfig{
			BaseURL:        srv.URL,
			Timeout:        2 * time.Second,
			RateLimitRPS:   1000,
			RateLimitBurst: 100,
			MaxRetries:     1,
		},
		Settlement: config.SettlementConfig{
			BatchCron:  "0 */5 * * * *",
			FixedDelay: time.Nanosecond,
		},
		Reconciliation: config.ReconciliationConfig{Lookback: 24 * time.Hour},
		Approval:       config.ApprovalConfig{RequireRejectReason: true},
		Webhook:        config.WebhookConfig{Secret: webhookSecret, MaxAge: 5 * time.Minute},
		Audit:          config.AuditConfig{BufferSize: 64, DrainTimeout: time.Second},
	}

	container, err := di.NewContainer(context.Background(), cfg, logger.NewLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(container.Close)

	return &testEnv{
		t:         t,
		router:    SetupRoutes(container),
		container: container,
		rail:      rail,
		userID:    uuid.New(),
		adminID:   uuid.New(),
	}
}

func (e *testEnv) token(id uuid.UUID, role string) string {
	e.t.Helper()
	tok, err := auth.Sign(jwtSecret, jwtIssuer, auth.Principal{UserID: id, Role: role}, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *testEnv) userToken() string  { return e.token(e.userID, auth.RoleUser) }
func (e *testEnv) adminToken() string { return e.token(e.adminID, auth.RoleAdmin) }

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func pixRequest(amount string) map[string]interface{} {
	return map[string]interface{}{
		"amount":       amount,
		"method":       "PIX",
		"pix_key":      "ana@example.com",
		"pix_key_type": "EMAIL",
	}
}

func (e *testEnv) createApproved(amount string) entities.WithdrawalResponse {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/withdrawals", e.userToken(), pixRequest(amount))
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entities.WithdrawalResponse](e.t, rec)

	rec = e.do(http.MethodPost, "/api/v1/admin/withdrawals/"+created.ID.String()+"/decision", e.adminToken(),
		map[string]interface{}{"approve": true})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[entities.WithdrawalResponse](e.t, rec)
}

func TestWithdrawalLifecycleThroughPolling(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/withdrawals/quote", env.userToken(),
		map[string]interface{}{"amount": "100.00", "method": "PIX"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[entities.QuoteResponse](t, rec)
	assert.Equal(t, "1.50", quote.Fee)
	assert.Equal(t, "98.50", quote.NetAmount)

	approved := env.createApproved("100.00")
	assert.Equal(t, entities.WithdrawalStatusApproved, approved.Status)
	require.NotNil(t, approved.ScheduledFor)

	rec = env.do(http.MethodPost, "/api/v1/admin/settlement/run", env.adminToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[settlementbatch.BatchResult](t, rec)
	assert.Equal(t, 1, batch.Claimed)
	assert.Equal(t, 1, batch.Submitted)

	rec = env.do(http.MethodGet, "/api/v1/withdrawals/"+approved.ID.String(), env.userToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	processing := decode[entities.WithdrawalResponse](t, rec)
	assert.Equal(t, entities.WithdrawalStatusProcessing, processing.Status)
	require.NotNil(t, processing.ExternalPayoutRef)

	env.rail.setStatus("SUCCESS")
	rec = env.do(http.MethodPost, "/api/v1/admin/reconciliation/run", env.adminToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[reconciliation.RunResult](t, rec)
	assert.Equal(t, 1, run.Checked)
	assert.Equal(t, 1, run.Converged)

	rec = env.do(http.MethodGet, "/api/v1/withdrawals?status=COMPLETED", env.userToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[entities.ListWithdrawalsResponse](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, approved.ID, page.Items[0].ID)
	assert.NotNil(t, page.Items[0].ProcessedAt)
	assert.Equal(t, entities.DefaultPageLimit, page.Limit)
}

func (e *testEnv) signedWebhook(n entities.PayoutNotification, secret string) *httptest.ResponseRecorder {
	e.t.Helper()
	payload, err := json.Marshal(n)
	require.NoError(e.t, err)

	now := time.Now()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payouts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("X-Signature", webhook.NewSignatureValidator(secret, 0).Sign(payload, now))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookConvergesProcessingRequest(t *testing.T) {
	env := newTestEnv(t)
	approved := env.createApproved("50.00")

	rec := env.do(http.MethodPost, "/api/v1/admin/settlement/run", env.adminToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/withdrawals/"+approved.ID.String(), env.userToken(), nil)
	ref := *decode[entities.WithdrawalResponse](t, rec).ExternalPayoutRef

	notification := entities.PayoutNotification{ID: "evt-1", Ref: ref, Status: "failed", Reason: "account closed"}

	rec = env.signedWebhook(notification, "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.signedWebhook(notification, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[reconciliation.Outcome](t, rec)
	assert.True(t, outcome.Converged)
	assert.Equal(t, entities.WithdrawalStatusFailed, outcome.Status)

	// redelivery without redis is absorbed by the state transition
	rec = env.signedWebhook(notification, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	outcome = decode[reconciliation.Outcome](t, rec)
	assert.False(t, outcome.Converged)
	assert.Equal(t, entities.WithdrawalStatusFailed, outcome.Status)

	rec = env.do(http.MethodGet, "/api/v1/withdrawals/"+approved.ID.String(), env.userToken(), nil)
	final := decode[entities.WithdrawalResponse](t, rec)
	require.NotNil(t, final.StatusReason)
	assert.Equal(t, "account closed", *final.StatusReason)

	rec = env.signedWebhook(entities.PayoutNotification{ID: "evt-2", Ref: "PAY-unknown", Status: "SUCCESS"}, webhookSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/withdrawals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/admin/withdrawals", env.userToken(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/admin/withdrawals", env.adminToken(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// another user's request reads as missing
	created := env.createApproved("20.00")
	other := env.token(uuid.New(), auth.RoleUser)
	rec = env.do(http.MethodGet, "/api/v1/withdrawals/"+created.ID.String(), other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/withdrawals", env.userToken(), pixRequest("20.00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[entities.WithdrawalResponse](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"unknown id", http.MethodGet, "/api/v1/withdrawals/" + uuid.NewString(), env.userToken(), nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", http.MethodGet, "/api/v1/withdrawals/nope", env.userToken(), nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid status filter", http.MethodGet, "/api/v1/withdrawals?status=DONE", env.userToken(), nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad amount", http.MethodPost, "/api/v1/withdrawals", env.userToken(), pixRequest("-1"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown coupon", http.MethodPost, "/api/v1/withdrawals/quote", env.userToken(),
			map[string]interface{}{"amount": "10.00", "method": "PIX", "coupon_code": "NOPE"}, http.StatusBadRequest, "COUPON_REJECTED"},
		{"reject without reason", http.MethodPost, "/api/v1/admin/withdrawals/" + created.ID.String() + "/decision", env.adminToken(),
			map[string]interface{}{"approve": false}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"decision without verdict", http.MethodPost, "/api/v1/admin/withdrawals/" + created.ID.String() + "/decision", env.adminToken(),
			map[string]interface{}{"notes": "hmm"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown coupon deactivate", http.MethodPost, "/api/v1/admin/coupons/NOPE/deactivate", env.adminToken(), nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[entities.ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}

	rec = env.do(http.MethodPost, "/api/v1/withdrawals/"+created.ID.String()+"/cancel", env.userToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.WithdrawalStatusCancelled, decode[entities.WithdrawalResponse](t, rec).Status)

	rec = env.do(http.MethodPost, "/api/v1/withdrawals/"+created.ID.String()+"/cancel", env.userToken(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCouponDiscountAndDeactivation(t *testing.T) {
	env := newTestEnv(t)

	maxUses := 5
	require.NoError(t, env.container.CouponRepo.Create(context.Background(), &entities.DiscountCoupon{
		ID:                 uuid.New(),
		Code:               "WELCOME10",
		DiscountPercentage: 10,
		MaxUses:            &maxUses,
		ValidFrom:          time.Now().Add(-time.Hour),
		IsActive:           true,
	}))

	body := pixRequest("100.00")
	body["coupon_code"] = "welcome10"
	rec := env.do(http.MethodPost, "/api/v1/withdrawals", env.userToken(), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entities.WithdrawalResponse](t, rec)
	assert.Equal(t, "1.50", created.Fee)
	assert.Equal(t, "0.15", created.DiscountAmount)
	assert.Equal(t, "98.65", created.NetAmount)

	type couponList struct {
		Items []entities.DiscountCoupon `json:"items"`
	}
	rec = env.do(http.MethodGet, "/api/v1/admin/coupons", env.adminToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed := decode[couponList](t, rec)
	require.Len(t, listed.Items, 1)
	assert.Equal(t, 1, listed.Items[0].CurrentUses)

	rec = env.do(http.MethodPost, "/api/v1/admin/coupons/welcome10/deactivate", env.adminToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/v1/admin/coupons", env.adminToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[couponList](t, rec).Items)

	rec = env.do(http.MethodPost, "/api/v1/withdrawals/quote", env.userToken(),
		map[string]interface{}{"amount": "100.00", "method": "PIX", "coupon_code": "WELCOME10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "payout_rail")

	rec = env.do(http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_version")

	rec = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "settlement_http_requests_total")

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
