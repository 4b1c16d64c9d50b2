package health

import (
	"context"

	"github.com/sony/gobreaker"
)

// BreakerChecker reports the state of a circuit breaker guarding an
// external dependency.
type BreakerChecker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerChecker(name string, breaker *gobreaker.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker}
}

func (c *BreakerChecker) Check(_ context.Context) CheckResult {
	state := c.breaker.State()
	counts := c.breaker.Counts()

	var result CheckResult
	switch state {
	case gobreaker.StateOpen:
		result = NewDegradedResult(c.name, "circuit open")
	case gobreaker.StateHalfOpen:
		result = NewDegradedResult(c.name, "circuit half-open")
	default:
		result = NewHealthyResult(c.name, "circuit closed")
	}
	return result.
		WithMetadata("state", state.String()).
		WithMetadata("consecutive_failures", counts.ConsecutiveFailures)
}

func (c *BreakerChecker) Name() string {
	return c.name
}
