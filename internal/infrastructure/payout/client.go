// Package payout is the HTTP client for the coldwallet payout rail.
package payout

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/pkg/circuitbreaker"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/metrics"
	"github.com/pixpay/settlement_service/pkg/retry"
	"github.com/pixpay/settlement_service/pkg/tracing"
)

const (
	serviceName    = "payout"
	defaultTimeout = 15 * time.Second
	defaultRPS     = 10
	defaultBurst   = 5
	maxBodyBytes   = 1 << 20
)

// Config represents payout rail configuration
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Retry          retry.RetryConfig
	Breaker        circuitbreaker.Config
}

// Client submits payouts and queries their status
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new payout client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = defaultRPS
	}
	if config.RateLimitBurst <= 0 {
		config.RateLimitBurst = defaultBurst
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig()
	}
	if config.Breaker.Timeout == 0 {
		config.Breaker = circuitbreaker.DefaultConfig()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// only failures worth retrying count against the breaker; a 4xx says
	// nothing about the rail's health
	breaker := circuitbreaker.New("PayoutAPI", config.Breaker, apperrors.IsRetryable,
		func(name string, from, to gobreaker.State) {
			metrics.UpdateCircuitBreakerState(serviceName, float64(to))
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		})

	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitBurst),
		logger:     logger,
	}
}

// Breaker exposes the circuit breaker for health reporting
func (c *Client) Breaker() *gobreaker.CircuitBreaker {
	return c.breaker
}

// Submit asks the rail to pay out a withdrawal. Resubmitting the same
// idempotency key returns the original payout.
func (c *Client) Submit(ctx context.Context, sub entities.PayoutSubmission) (ref string, err error) {
	ctx, span := tracing.StartSpan(ctx, "payout-client", "payout.submit",
		attribute.String("idempotency_key", sub.IdempotencyKey.String()),
		attribute.String("method", string(sub.Method)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	body := submitRequest{
		IdempotencyKey: sub.IdempotencyKey.String(),
		Method:         string(sub.Method),
		Amount:         sub.NetAmount,
	}
	if sub.Destination.PixKey != nil {
		body.PixKey = *sub.Destination.PixKey
	}
	if sub.Destination.PixKeyType != nil {
		body.PixKeyType = string(*sub.Destination.PixKeyType)
	}
	if sub.Destination.ChainAddress != nil {
		body.ChainAddress = *sub.Destination.ChainAddress
	}

	headers := http.Header{}
	headers.Set("Idempotency-Key", body.IdempotencyKey)

	var resp payoutResponse
	if err := c.call(ctx, "submit", http.MethodPost, "/v1/payouts", headers, body, &resp); err != nil {
		c.logger.Error("Payout submission failed",
			zap.String("idempotency_key", body.IdempotencyKey),
			zap.Error(err))
		return "", err
	}
	if strings.TrimSpace(resp.Ref) == "" {
		return "", unexpectedShape("submission response has no payout_ref")
	}

	c.logger.Info("Payout submitted",
		zap.String("idempotency_key", body.IdempotencyKey),
		zap.String("payout_ref", resp.Ref),
		zap.String("status", resp.Status))
	return resp.Ref, nil
}

// QueryStatus fetches the rail's current view of a payout
func (c *Client) QueryStatus(ctx context.Context, ref string) (_ *entities.PayoutStatusResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "payout-client", "payout.query_status",
		attribute.String("payout_ref", ref),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var resp payoutResponse
	if err := c.call(ctx, "query_status", http.MethodGet, "/v1/payouts/"+url.PathEscape(ref), nil, nil, &resp); err != nil {
		return nil, err
	}

	status := entities.PayoutStatus(strings.ToUpper(strings.TrimSpace(resp.Status)))
	if !status.IsValid() {
		return nil, unexpectedShape(fmt.Sprintf("unknown payout status %q", resp.Status))
	}
	if resp.Ref == "" {
		resp.Ref = ref
	}
	return &entities.PayoutStatusResult{Ref: resp.Ref, Status: status, Reason: resp.Reason}, nil
}

func unexpectedShape(detail string) error {
	return apperrors.NewExternalError(serviceName, fmt.Errorf("unexpected shape: %s", detail), false)
}

// call runs one logical request through the breaker, the retry loop and
// the rate limiter.
func (c *Client) call(ctx context.Context, operation, method, path string, headers http.Header, body, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, retry.WithExponentialBackoff(ctx, c.config.Retry, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return apperrors.NewExternalError(serviceName, err, false)
			}
			return c.do(ctx, operation, method, path, headers, body, out)
		}, apperrors.IsRetryable)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewExternalError(serviceName, err, true)
	}
	return err
}

// do performs a single HTTP request and maps the outcome onto AppErrors
func (c *Client) do(ctx context.Context, operation, method, path string, headers http.Header, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	tracing.InjectTraceContext(ctx, req.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordPayoutRequest(operation, "error", time.Since(start).Seconds())
		return apperrors.NewExternalError(serviceName, err, apperrors.ShouldRetry(err))
	}
	defer resp.Body.Close()
	metrics.RecordPayoutRequest(operation, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewExternalError(serviceName, fmt.Errorf("failed to read response body: %w", err), true)
	}

	c.logger.Debug("Payout API response",
		zap.String("operation", operation),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("body_size", len(respBody)))

	if resp.StatusCode >= 400 {
		return c.statusError(resp, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return unexpectedShape(err.Error())
		}
	}
	return nil
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, msg)

	retryable := false
	switch apperrors.ClassifyHTTPError(resp.StatusCode) {
	case apperrors.ErrorTypeRateLimit, apperrors.ErrorTypeTransient, apperrors.ErrorTypeTimeout, apperrors.ErrorTypeExternal:
		retryable = true
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("Rate limited by payout API", zap.String("retry_after", resp.Header.Get("Retry-After")))
	}

	appErr := apperrors.NewExternalError(serviceName, cause, retryable)
	appErr.WithDetail("status_code", strconv.Itoa(resp.StatusCode))
	return appErr
}
