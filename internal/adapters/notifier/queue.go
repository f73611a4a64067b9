package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
)

const subjectPrefix = "Your Auto-Newsletter is Ready - "

// Queue раскладывает уведомление о черновике по одному сообщению на получателя.
type Queue struct {
	queue        domain.NotificationQueue
	draftBaseURL string
	log          zerolog.Logger
	now          func() time.Time
}

// NewQueue создаёт нотификатор поверх очереди отправки.
func NewQueue(queue domain.NotificationQueue, draftBaseURL string, logger zerolog.Logger) *Queue {
	return &Queue{queue: queue, draftBaseURL: strings.TrimRight(draftBaseURL, "/"), log: logger, now: time.Now}
}

// Notify публикует письмо каждому получателю. Ошибки отдельных получателей собираются вместе.
func (q *Queue) Notify(ctx context.Context, job domain.AutoNewsletterJob, draft domain.Draft) error {
	var errs []error
	for _, recipient := range job.EmailRecipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		msg := Message(job, draft, recipient, q.draftBaseURL, q.now().UTC())
		if err := q.queue.Publish(ctx, msg); err != nil {
			q.log.Warn().Err(err).Str("job_id", job.ID.String()).Str("recipient", recipient).Msg("notifier: не удалось поставить письмо в очередь")
			errs = append(errs, fmt.Errorf("%s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

// DraftURL возвращает ссылку на черновик.
func DraftURL(baseURL string, draftID uuid.UUID) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/" + draftID.String()
}

// Message строит письмо о готовом черновике.
func Message(job domain.AutoNewsletterJob, draft domain.Draft, recipient, baseURL string, now time.Time) domain.NotificationMessage {
	topic := strings.TrimSpace(job.Topic)
	if topic == "" {
		topic = draft.Title
	}
	link := DraftURL(baseURL, draft.ID)
	var body strings.Builder
	fmt.Fprintf(&body, "Your newsletter draft %q is ready for review.\n", draft.Title)
	fmt.Fprintf(&body, "It includes %d items.\n", draft.EntryCount)
	if link != "" {
		fmt.Fprintf(&body, "\nOpen the draft: %s\n", link)
	}
	return domain.NotificationMessage{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		DraftID:   draft.ID,
		Recipient: recipient,
		Subject:   subjectPrefix + topic,
		Body:      body.String(),
		DraftURL:  link,
		CreatedAt: now,
	}
}

var _ domain.Notifier = (*Queue)(nil)
