package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

// RabbitNotificationQueue публикует уведомления в очередь RabbitMQ через AMQP.
type RabbitNotificationQueue struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	dialTimeout time.Duration
}

// NewRabbitNotificationQueue создаёт издателя. Соединение открывается лениво.
func NewRabbitNotificationQueue(amqpURL, queue string) (*RabbitNotificationQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	return &RabbitNotificationQueue{url: amqpURL, queue: queue, dialTimeout: 30 * time.Second}, nil
}

// Publish отправляет сообщение в очередь с подтверждением от брокера.
func (q *RabbitNotificationQueue) Publish(ctx context.Context, msg domain.NotificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	ch, err := q.channel(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Body:         payload,
	})
	if err == nil && confirm != nil {
		var acked bool
		acked, err = confirm.WaitContext(ctx)
		if err == nil && !acked {
			err = errors.New("broker nacked notification")
		}
	}
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		q.reset()
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (q *RabbitNotificationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	q.ch, q.conn = nil, nil
	return errors.Join(errs...)
}

func (q *RabbitNotificationQueue) channel(ctx context.Context) (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = q.dialTimeout
	var conn *amqp.Connection
	dial := func() error {
		start := time.Now()
		c, err := amqp.Dial(q.url)
		metrics.ObserveNetworkRequest("rabbitmq", "dial", q.queue, start, err)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	q.conn, q.ch = conn, ch
	return ch, nil
}

func (q *RabbitNotificationQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn != nil {
		_ = q.conn.Close()
	}
	q.conn, q.ch = nil, nil
}

var _ domain.NotificationQueue = (*RabbitNotificationQueue)(nil)
