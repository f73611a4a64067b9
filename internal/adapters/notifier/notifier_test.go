package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creatorpulse/internal/adapters/repo"
	"creatorpulse/internal/domain"
)

type stubQueue struct {
	published []domain.NotificationMessage
	failFor   string
}

func (s *stubQueue) Publish(_ context.Context, msg domain.NotificationMessage) error {
	if msg.Recipient == s.failFor {
		return errors.New("queue down")
	}
	s.published = append(s.published, msg)
	return nil
}

func sampleJobDraft() (domain.AutoNewsletterJob, domain.Draft) {
	job := domain.AutoNewsletterJob{ID: uuid.New(), Topic: "Go", EmailRecipients: []string{"a@example.com", " ", "b@example.com"}}
	draft := domain.Draft{ID: uuid.New(), JobID: job.ID, Title: "Go weekly", EntryCount: 4}
	return job, draft
}

func TestQueueNotifyPerRecipient(t *testing.T) {
	q := &stubQueue{}
	n := NewQueue(q, "https://app.example.com/drafts/", zerolog.Nop())
	job, draft := sampleJobDraft()

	if err := n.Notify(context.Background(), job, draft); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(q.published) != 2 {
		t.Fatalf("ожидали 2 письма, получили %d", len(q.published))
	}
	msg := q.published[0]
	if msg.Subject != "Your Auto-Newsletter is Ready - Go" {
		t.Fatalf("неожиданная тема: %q", msg.Subject)
	}
	wantURL := "https://app.example.com/drafts/" + draft.ID.String()
	if msg.DraftURL != wantURL || !strings.Contains(msg.Body, wantURL) {
		t.Fatalf("неожиданная ссылка: %+v", msg)
	}
	if msg.DraftID != draft.ID || msg.JobID != job.ID || msg.ID == "" {
		t.Fatalf("неожиданное сообщение: %+v", msg)
	}
}

func TestQueueNotifyCollectsFailures(t *testing.T) {
	q := &stubQueue{failFor: "a@example.com"}
	n := NewQueue(q, "", zerolog.Nop())
	job, draft := sampleJobDraft()

	err := n.Notify(context.Background(), job, draft)
	if err == nil || !strings.Contains(err.Error(), "a@example.com") {
		t.Fatalf("ожидали ошибку по получателю, получили %v", err)
	}
	if len(q.published) != 1 || q.published[0].Recipient != "b@example.com" {
		t.Fatalf("остальные получатели должны получить письмо: %+v", q.published)
	}
	if q.published[0].DraftURL != "" {
		t.Fatalf("без базового адреса ссылки быть не должно")
	}
}

type stubSender struct {
	texts []string
	err   error
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.texts = append(s.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramAlerts(t *testing.T) {
	bot := &stubSender{}
	tg := NewTelegram(bot, 42, "https://app.example.com/drafts", zerolog.Nop())
	job, draft := sampleJobDraft()

	if err := tg.Notify(context.Background(), job, draft); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := tg.JobFailed(context.Background(), job, errors.New("llm timeout")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(bot.texts) != 2 || !strings.Contains(bot.texts[0], "Go weekly") || !strings.Contains(bot.texts[1], "llm timeout") {
		t.Fatalf("неожиданные сообщения: %q", bot.texts)
	}

	failing := NewTelegram(&stubSender{err: errors.New("403")}, 42, "", zerolog.Nop())
	if err := failing.JobFailed(context.Background(), job, errors.New("x")); err == nil {
		t.Fatalf("ожидали ошибку отправки")
	}
}

func TestSplitMessage(t *testing.T) {
	if SplitMessage("  ") != nil {
		t.Fatalf("пустой текст не должен давать частей")
	}
	short := SplitMessage("hello")
	if len(short) != 1 || short[0] != "hello" {
		t.Fatalf("неожиданный результат: %q", short)
	}
	line := strings.Repeat("a", 3000)
	parts := SplitMessage(line + "\n" + line)
	if len(parts) != 2 || parts[0] != line || parts[1] != line {
		t.Fatalf("ожидали разрез по переводу строки, получили %d частей", len(parts))
	}
	long := SplitMessage(strings.Repeat("b", 5000))
	if len(long) != 2 || len([]rune(long[0])) != messageLimit || len([]rune(long[1])) != 5000-messageLimit {
		t.Fatalf("неожиданная нарезка без переводов строки")
	}
}

type failNotifier struct{ calls int }

func (f *failNotifier) Notify(context.Context, domain.AutoNewsletterJob, domain.Draft) error {
	f.calls++
	return errors.New("fail")
}

func TestMultiCallsAll(t *testing.T) {
	first, second := &failNotifier{}, &failNotifier{}
	m := Multi{first, nil, NewLog(zerolog.Nop()), second}
	job, draft := sampleJobDraft()
	if err := m.Notify(context.Background(), job, draft); err == nil {
		t.Fatalf("ожидали объединённую ошибку")
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("все нотификаторы должны быть вызваны")
	}
}

func TestDraftFeed(t *testing.T) {
	store := repo.NewMemory()
	ctx := context.Background()
	older := time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)
	for i, title := range []string{"First draft", "Second draft"} {
		if _, err := store.SaveDraft(ctx, domain.Draft{ID: uuid.New(), Title: title, Body: "body", CreatedAt: older.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	feed := NewDraftFeed(store, "https://app.example.com/drafts", zerolog.Nop())

	rec := httptest.NewRecorder()
	feed.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed.atom", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/atom+xml") {
		t.Fatalf("неожиданный Content-Type: %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "First draft") || !strings.Contains(body, "Second draft") || !strings.Contains(body, "https://app.example.com/drafts/") {
		t.Fatalf("неожиданная лента:\n%s", body)
	}
}
