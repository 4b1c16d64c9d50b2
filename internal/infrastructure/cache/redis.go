package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix   = "settlement:"
	defaultDedupTTL = 72 * time.Hour
)

type Config struct {
	URL      string
	PoolSize int
	DedupTTL time.Duration
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NotificationDeduper remembers payout webhook notification ids so a
// redelivered notification is only applied once.
type NotificationDeduper struct {
	client redis.UniversalClient
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

func NewNotificationDeduper(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *NotificationDeduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &NotificationDeduper{
		client: client,
		logger: logger,
		prefix: defaultPrefix + "notification:",
		ttl:    ttl,
	}
}

// FirstSeen marks id as seen and reports whether this call was the first
func (d *NotificationDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record notification %s: %w", id, err)
	}
	if !ok {
		d.logger.Debug("Duplicate payout notification", zap.String("notification_id", id))
	}
	return ok, nil
}

// Forget removes id so a notification that failed to apply can be retried
func (d *NotificationDeduper) Forget(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.prefix+id).Err()
}
