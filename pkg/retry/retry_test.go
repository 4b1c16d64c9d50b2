package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTemporary = errors.New("temporary")

func fastConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithExponentialBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := WithExponentialBackoff(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errTemporary
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errTemporary) })

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithExponentialBackoffStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := WithExponentialBackoff(context.Background(), fastConfig(), func() error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errTemporary) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoffExhausts(t *testing.T) {
	calls := 0
	err := WithExponentialBackoff(context.Background(), fastConfig(), func() error {
		calls++
		return errTemporary
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, errTemporary)
	assert.Equal(t, 3, calls)
}

func TestExponential(t *testing.T) {
	assert.Equal(t, time.Duration(0), Exponential(time.Second, 2, 0, time.Minute))
	assert.Equal(t, time.Second, Exponential(time.Second, 2, 1, time.Minute))
	assert.Equal(t, 4*time.Second, Exponential(time.Second, 2, 3, time.Minute))
	assert.Equal(t, time.Minute, Exponential(time.Second, 2, 20, time.Minute))
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 2, 0.2)
	for i := 0; i < 50; i++ {
		d := b.Calculate(2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}
