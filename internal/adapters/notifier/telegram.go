package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

const messageLimit = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram шлёт служебные оповещения о черновиках и сбоях в чат операторов.
type Telegram struct {
	bot          sender
	chatID       int64
	draftBaseURL string
	log          zerolog.Logger
}

// NewTelegram создаёт оповещатель. bot — обычно *tgbotapi.BotAPI.
func NewTelegram(bot sender, chatID int64, draftBaseURL string, logger zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, draftBaseURL: draftBaseURL, log: logger}
}

// Notify сообщает о готовом черновике.
func (t *Telegram) Notify(_ context.Context, job domain.AutoNewsletterJob, draft domain.Draft) error {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Черновик готов: %s\n", draft.Title)
	fmt.Fprintf(&b, "Задача: %s\nТема: %s\nЗаписей: %d\nПолучателей: %d\n", job.ID, job.Topic, draft.EntryCount, len(job.EmailRecipients))
	if link := DraftURL(t.draftBaseURL, draft.ID); link != "" {
		b.WriteString(link + "\n")
	}
	return t.send(b.String())
}

// JobFailed сообщает о сбое генерации задачи.
func (t *Telegram) JobFailed(_ context.Context, job domain.AutoNewsletterJob, cause error) error {
	return t.send(fmt.Sprintf("⚠️ Генерация не удалась\nЗадача: %s\nТема: %s\nОшибка: %v", job.ID, job.Topic, cause))
}

func (t *Telegram) send(text string) error {
	for _, part := range SplitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(t.chatID, 10), start, err)
		if err != nil {
			t.log.Error().Err(err).Msg("notifier: не удалось отправить оповещение")
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// SplitMessage режет текст на части не длиннее лимита Telegram, по возможности по переводам строк.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := min(start+messageLimit, len(runes))
		split := end
		if end < len(runes) {
			for i := end; i > start; i-- {
				if runes[i-1] == '\n' {
					split = i
					break
				}
			}
		}
		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}

var _ domain.Notifier = (*Telegram)(nil)
