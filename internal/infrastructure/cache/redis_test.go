package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func redisClientForTest(t *testing.T) *NotificationDeduper {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := Connect(context.Background(), Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewNotificationDeduper(client, time.Minute, zaptest.NewLogger(t))
}

func TestNotificationDeduper(t *testing.T) {
	d := redisClientForTest(t)
	ctx := context.Background()
	id := uuid.NewString()

	first, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, id))
	retried, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, retried)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{URL: "not-a-redis-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse redis url")
}
