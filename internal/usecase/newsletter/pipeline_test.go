package newsletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creatorpulse/internal/adapters/repo"
	"creatorpulse/internal/domain"
	"creatorpulse/internal/usecase/ingest"
	"creatorpulse/internal/usecase/spike"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type stubCrawler struct {
	report ingest.Report
	err    error
	calls  int
}

func (s *stubCrawler) CrawlBundle(context.Context, uuid.UUID) (ingest.Report, error) {
	s.calls++
	return s.report, s.err
}

type stubSpikes struct {
	open      []domain.SpikeEvent
	processed []uuid.UUID
	detected  int
	opts      spike.Options
	err       error
}

func (s *stubSpikes) Detect(_ context.Context, _ uuid.UUID, opts spike.Options) ([]domain.SpikeEvent, error) {
	s.detected++
	s.opts = opts
	return nil, s.err
}

func (s *stubSpikes) OpenSpikes(context.Context, uuid.UUID) ([]domain.SpikeEvent, error) {
	return s.open, nil
}

func (s *stubSpikes) MarkProcessed(_ context.Context, ids []uuid.UUID) error {
	s.processed = append(s.processed, ids...)
	return nil
}

type stubTrends struct {
	records   []domain.TrendRecord
	relevance float64
}

func (s *stubTrends) DetectForKeywords(context.Context, []string, string) []domain.TrendRecord {
	return s.records
}

func (s *stubTrends) Relevance(context.Context, string, []string) (float64, error) {
	return s.relevance, nil
}

func (s *stubTrends) Trending(context.Context, int) ([]domain.TrendRecord, error) {
	return s.records, nil
}

type stubGenerator struct {
	req domain.GenerationRequest
}

func (s *stubGenerator) Generate(_ context.Context, req domain.GenerationRequest) (domain.Draft, error) {
	s.req = req
	return domain.Draft{ID: uuid.New(), Title: "Draft", Body: "body"}, nil
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, domain.AutoNewsletterJob, domain.Draft) error {
	s.calls++
	return s.err
}

type fixture struct {
	store     *repo.Memory
	job       domain.AutoNewsletterJob
	crawler   *stubCrawler
	spikes    *stubSpikes
	trends    *stubTrends
	generator *stubGenerator
	notifier  *stubNotifier
	pipeline  *Pipeline
}

func newFixture(t *testing.T, sched domain.Schedule, withEntries bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemory()
	bundle, err := store.UpsertBundle(ctx, domain.Bundle{Key: "tech"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	src, err := store.UpsertSource(ctx, domain.Source{Type: domain.SourceFeed, Identifier: "https://blog.example.com/rss", BundleID: bundle.ID, IsActive: true})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if withEntries {
		for i, title := range []string{"Go generics deep dive", "Kubernetes news", "Ancient history"} {
			published := fixedNow.Add(-time.Duration(i+1) * time.Hour)
			if i == 2 {
				published = fixedNow.AddDate(0, 0, -10)
			}
			link := "https://blog.example.com/" + title
			if _, err := store.InsertEntry(ctx, domain.ContentEntry{
				Title: title, Link: link, SourceID: src.ID, SourceType: domain.SourceFeed,
				PublishedAt: published, FetchedAt: fixedNow, ContentHash: domain.ContentHash(title, link),
			}); err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
		}
	}
	job, err := store.CreateJob(ctx, domain.AutoNewsletterJob{
		BundleID:        bundle.ID,
		IsActive:        true,
		Topic:           "go",
		EmailRecipients: []string{"a@example.com"},
		Schedule:        domain.ScheduleConfig{Timezone: "UTC", Schedule: sched},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	f := &fixture{
		store:     store,
		job:       job,
		crawler:   &stubCrawler{report: ingest.Report{Inserted: 3}},
		spikes:    &stubSpikes{},
		trends:    &stubTrends{},
		generator: &stubGenerator{},
		notifier:  &stubNotifier{},
	}
	f.pipeline = NewPipeline(Deps{
		Jobs:        store,
		Entries:     store,
		Drafts:      store,
		Generations: store,
		Crawler:     f.crawler,
		Spikes:      f.spikes,
		Trends:      f.trends,
		Generator:   f.generator,
		Notifier:    f.notifier,
	}, 10, zerolog.Nop())
	f.pipeline.now = func() time.Time { return fixedNow }
	return f
}

var daily = domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}

func TestPipelineRun(t *testing.T) {
	f := newFixture(t, daily, true)
	ctx := context.Background()
	spikeID := uuid.New()
	f.spikes.open = []domain.SpikeEvent{{ID: spikeID, SpikeScore: 4}, {ID: uuid.New(), SpikeScore: 2}}

	draft, err := f.pipeline.Run(ctx, f.job)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if f.crawler.calls != 1 || f.notifier.calls != 1 {
		t.Fatalf("ожидали обход и уведомление: crawl=%d notify=%d", f.crawler.calls, f.notifier.calls)
	}
	if len(f.generator.req.Entries) != 2 {
		t.Fatalf("старые записи не должны попадать в выборку, получили %d", len(f.generator.req.Entries))
	}
	if f.generator.req.Entries[0].Entry.Title != "Go generics deep dive" {
		t.Fatalf("запись по теме должна быть первой: %+v", f.generator.req.Entries[0])
	}
	if f.generator.req.Trends != nil {
		t.Fatalf("тренды нужны только трендовым задачам")
	}

	stored, err := f.store.GetDraft(ctx, draft.ID)
	if err != nil || stored.JobID != f.job.ID || stored.Topic != "go" || stored.EntryCount != 2 {
		t.Fatalf("неожиданный черновик: %+v, %v", stored, err)
	}
	job, _ := f.store.GetJob(ctx, f.job.ID)
	if job.LastGeneratedAt == nil || !job.LastGeneratedAt.Equal(fixedNow) {
		t.Fatalf("ожидали отметку генерации, получили %v", job.LastGeneratedAt)
	}
	if len(f.spikes.processed) != 2 {
		t.Fatalf("всплески должны быть отмечены обработанными")
	}

	records, _ := f.store.ListGenerations(ctx, f.job.ID, time.Time{})
	if len(records) != 1 {
		t.Fatalf("ожидали одну запись аналитики, получили %d", len(records))
	}
	rec := records[0]
	if rec.SourcesUsed != 1 || rec.NewEntries != 3 || rec.SpikesProcessed != 2 || rec.SpikeImpact == nil || *rec.SpikeImpact != 3 || rec.TrendRelevance != nil {
		t.Fatalf("неожиданная аналитика: %+v", rec)
	}
}

func TestPipelineNoContent(t *testing.T) {
	f := newFixture(t, daily, false)
	if _, err := f.pipeline.Run(context.Background(), f.job); !errors.Is(err, ErrNoContent) {
		t.Fatalf("ожидали ErrNoContent, получили %v", err)
	}
	drafts, _ := f.store.ListDrafts(context.Background(), 0)
	if len(drafts) != 0 || f.notifier.calls != 0 {
		t.Fatalf("без контента черновик не создаётся")
	}
	job, _ := f.store.GetJob(context.Background(), f.job.ID)
	if job.LastGeneratedAt != nil {
		t.Fatalf("задача должна остаться в ожидании")
	}
}

type countingFetcher struct {
	calls int
}

func (c *countingFetcher) Fetch(context.Context, domain.Source) []domain.ContentEntry {
	c.calls++
	return nil
}

func TestPipelineRetryDoesNotRefetchFreshSources(t *testing.T) {
	f := newFixture(t, daily, false)
	fetcher := &countingFetcher{}
	crawler := ingest.NewService(f.store, f.store, fetcher, 0, 0, zerolog.Nop())
	f.pipeline.deps.Crawler = crawler

	for i := 0; i < 3; i++ {
		if _, err := f.pipeline.Run(context.Background(), f.job); !errors.Is(err, ErrNoContent) {
			t.Fatalf("попытка %d: ожидали ErrNoContent, получили %v", i+1, err)
		}
	}
	if fetcher.calls != 1 {
		t.Fatalf("повторные попытки не должны выгружать источник заново, вызовов %d", fetcher.calls)
	}
}

func TestPipelineSurvivesCrawlAndNotifyErrors(t *testing.T) {
	f := newFixture(t, daily, true)
	f.crawler.err = errors.New("feed down")
	f.notifier.err = errors.New("queue down")

	draft, err := f.pipeline.Run(context.Background(), f.job)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := f.store.GetDraft(context.Background(), draft.ID); err != nil {
		t.Fatalf("черновик должен сохраниться: %v", err)
	}
}

func TestPipelineTrendJob(t *testing.T) {
	f := newFixture(t, domain.TrendBasedSchedule{Keywords: []string{"Go", "rust"}, Threshold: 50}, true)
	f.trends.records = []domain.TrendRecord{
		{Keyword: "go", Score: 80},
		{Keyword: "python", Score: 90},
		{Keyword: "Rust", Score: 60},
	}
	f.trends.relevance = 0.75

	if _, err := f.pipeline.Run(context.Background(), f.job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := f.generator.req.Trends; len(got) != 2 || got[0].Keyword != "go" || got[1].Keyword != "Rust" {
		t.Fatalf("ожидали только тренды задачи, получили %+v", got)
	}
	records, _ := f.store.ListGenerations(context.Background(), f.job.ID, time.Time{})
	if len(records) != 1 || records[0].TrendRelevance == nil || *records[0].TrendRelevance != 0.75 || records[0].TrendsDetected != 2 {
		t.Fatalf("неожиданная аналитика: %+v", records)
	}
}

func TestSignals(t *testing.T) {
	job := domain.AutoNewsletterJob{ID: uuid.New()}
	spikes := &stubSpikes{}
	trends := &stubTrends{records: []domain.TrendRecord{{Keyword: "go", Score: 40}, {Keyword: "rust", Score: 75}}}
	s := NewSignals(spikes, trends, 6*time.Hour)
	ctx := context.Background()

	ok, _, err := s.ContentSignal(ctx, job, domain.ContentBasedSchedule{SpikeThreshold: 2.5})
	if err != nil || ok {
		t.Fatalf("без всплесков сигнала нет: ok=%v err=%v", ok, err)
	}
	if spikes.detected != 1 || spikes.opts.Threshold != 2.5 || spikes.opts.Window != 6*time.Hour {
		t.Fatalf("обнаружение должно запускаться с порогом задачи: %+v", spikes.opts)
	}
	spikes.open = []domain.SpikeEvent{{ID: uuid.New()}}
	if ok, _, _ := s.ContentSignal(ctx, job, domain.ContentBasedSchedule{SpikeThreshold: 2}); !ok {
		t.Fatalf("открытый всплеск даёт сигнал")
	}
	spikes.err = errors.New("db down")
	if _, _, err := s.ContentSignal(ctx, job, domain.ContentBasedSchedule{SpikeThreshold: 2}); err == nil {
		t.Fatalf("ожидали ошибку обнаружения")
	}

	if ok, _, _ := s.TrendSignal(ctx, job, domain.TrendBasedSchedule{Keywords: []string{"go", "rust"}, Threshold: 80}); ok {
		t.Fatalf("тренды ниже порога не дают сигнала")
	}
	if ok, reason, _ := s.TrendSignal(ctx, job, domain.TrendBasedSchedule{Keywords: []string{"go", "rust"}, Threshold: 75}); !ok || reason == "" {
		t.Fatalf("оценка на пороге даёт сигнал")
	}

	silent := NewSignals(spikes, &stubTrends{records: []domain.TrendRecord{{Keyword: "golang", Score: 0}}}, time.Hour)
	if ok, reason, _ := silent.TrendSignal(ctx, job, domain.TrendBasedSchedule{Keywords: []string{"golang"}, Threshold: 0}); ok {
		t.Fatalf("нулевая оценка при нулевом пороге не даёт сигнала: %s", reason)
	}
}
