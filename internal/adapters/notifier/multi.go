package notifier

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
)

// Log только пишет в лог. Используется при NOTIFY_BACKEND=log.
type Log struct {
	log zerolog.Logger
}

// NewLog создаёт нотификатор-заглушку.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger}
}

// Notify реализует domain.Notifier.
func (l *Log) Notify(_ context.Context, job domain.AutoNewsletterJob, draft domain.Draft) error {
	l.log.Info().
		Str("job_id", job.ID.String()).
		Str("draft_id", draft.ID.String()).
		Strs("recipients", job.EmailRecipients).
		Msg("notifier: черновик готов")
	return nil
}

// Multi вызывает все нотификаторы по очереди и объединяет их ошибки.
type Multi []domain.Notifier

// Notify реализует domain.Notifier.
func (m Multi) Notify(ctx context.Context, job domain.AutoNewsletterJob, draft domain.Draft) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, job, draft); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domain.Notifier = (*Log)(nil)
	_ domain.Notifier = Multi(nil)
)
