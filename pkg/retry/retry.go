package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts, including the first
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Cap on any single delay
	Multiplier  float64       // Backoff multiplier
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// IsRetryableFunc determines if an error should trigger a retry
type IsRetryableFunc func(error) bool

// WithExponentialBackoff retries fn until it succeeds, returns a
// non-retryable error, runs out of attempts or ctx is done. The last error
// is returned unwrapped so callers can inspect its type.
func WithExponentialBackoff(
	ctx context.Context,
	config RetryConfig,
	fn RetryableFunc,
	isRetryable IsRetryableFunc,
) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == config.MaxAttempts {
			return lastErr
		}

		delay := Exponential(config.BaseDelay, config.Multiplier, attempt, config.MaxDelay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled by context: %w", lastErr)
		case <-time.After(delay):
		}
	}

	return lastErr
}

// Exponential calculates exponential backoff without jitter. Attempt 1
// yields the initial backoff.
func Exponential(initial time.Duration, multiplier float64, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if max > 0 && backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(backoff)
}

// Backoff calculates jittered retry delays
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, 0..1

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a new backoff calculator
func NewBackoff(initial, max time.Duration, multiplier, jitter float64) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Calculate computes the delay for the given attempt number
func (b *Backoff) Calculate(attempt int) time.Duration {
	backoff := float64(Exponential(b.Initial, b.Multiplier, attempt, b.Max))
	if b.Jitter <= 0 || backoff == 0 {
		return time.Duration(backoff)
	}

	b.mu.Lock()
	r := b.rng.Float64()
	b.mu.Unlock()

	jitter := backoff * b.Jitter
	backoff = backoff - jitter + r*2*jitter
	if b.Max > 0 && backoff > float64(b.Max) {
		backoff = float64(b.Max)
	}
	return time.Duration(backoff)
}
