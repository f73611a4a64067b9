package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobState — состояние задачи в цикле планировщика.
type JobState string

const (
	// JobPending — задача ждёт следующего слота или сигнала.
	JobPending JobState = "pending"
	// JobDue — задача должна быть запущена на текущем тике.
	JobDue JobState = "due"
	// JobFired — генерация завершилась успешно.
	JobFired JobState = "fired"
)

// NotificationMessage — письмо о готовом черновике для одного получателя.
type NotificationMessage struct {
	ID        string    `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	DraftID   uuid.UUID `json:"draft_id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	DraftURL  string    `json:"draft_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationQueue публикует письма во внешнюю очередь отправки.
type NotificationQueue interface {
	Publish(ctx context.Context, msg NotificationMessage) error
}
