package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisChecker creates a new Redis health checker
func NewRedisChecker(client redis.UniversalClient, timeout time.Duration) *RedisChecker {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &RedisChecker{client: client, timeout: timeout}
}

// Check pings Redis. Redis only backs webhook dedupe, so a failure is
// reported as degraded rather than unhealthy.
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return NewDegradedResult(c.Name(), "ping failed: "+err.Error()).WithDuration(time.Since(start))
	}
	return NewHealthyResult(c.Name(), "connected").WithDuration(time.Since(start))
}

func (c *RedisChecker) Name() string {
	return "redis"
}
