package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

// RedisNotificationQueue публикует уведомления в Redis list.
type RedisNotificationQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisNotificationQueue создаёт очередь по указанному ключу.
func NewRedisNotificationQueue(client redis.UniversalClient, key string) *RedisNotificationQueue {
	return &RedisNotificationQueue{client: client, key: key}
}

// Publish кладёт уведомление в голову списка.
func (q *RedisNotificationQueue) Publish(ctx context.Context, msg domain.NotificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

var _ domain.NotificationQueue = (*RedisNotificationQueue)(nil)
