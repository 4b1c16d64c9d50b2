package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixpay/settlement_service/pkg/health"
	"github.com/pixpay/settlement_service/pkg/version"
)

// HealthChecker runs the registered dependency checks
type HealthChecker interface {
	Check(ctx context.Context) (health.Status, map[string]health.CheckResult)
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health runs every checker. Degraded still answers 200 so a tripped payout
// breaker does not pull the API out of rotation.
func (h *HealthHandler) Health(c *gin.Context) {
	status, checks := h.checker.Check(c.Request.Context())

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Checks:    checks,
	})
}

// Live answers as long as the process serves HTTP
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
}
