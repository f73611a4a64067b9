package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

const (
	maxTitleRunes   = 500
	maxSummaryRunes = 2000
	maxAuthorRunes  = 200

	defaultRetention     = 30 * 24 * time.Hour
	defaultCrawlInterval = 6 * time.Hour
	defaultRefreshAfter  = 30 * time.Minute
	crawlConcurrency     = 4
)

// Report — итог обхода источников.
type Report struct {
	Sources  int
	Fetched  int
	Inserted int
	Fresh    int
	Swept    int64
}

// Service сохраняет новые записи источников и чистит устаревшие.
type Service struct {
	sources   domain.SourceRepo
	entries   domain.EntryRepo
	fetcher   domain.Fetcher
	retention time.Duration
	interval  time.Duration
	refresh   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewService создаёт сервис сбора контента.
func NewService(sources domain.SourceRepo, entries domain.EntryRepo, fetcher domain.Fetcher, retention, interval time.Duration, logger zerolog.Logger) *Service {
	if retention <= 0 {
		retention = defaultRetention
	}
	if interval <= 0 {
		interval = defaultCrawlInterval
	}
	return &Service{sources: sources, entries: entries, fetcher: fetcher, retention: retention, interval: interval, refresh: defaultRefreshAfter, now: time.Now, log: logger}
}

// SetRefreshAfter задаёт, как давно должен был пройти обход источника, чтобы CrawlBundle выгрузил его снова.
func (s *Service) SetRefreshAfter(d time.Duration) {
	if d > 0 {
		s.refresh = d
	}
}

// Store сохраняет записи, пропуская уже известные, и возвращает количество новых.
// Ошибка записи одной строки логируется и не прерывает сохранение остальных.
func (s *Service) Store(ctx context.Context, entries []domain.ContentEntry, source domain.Source) int {
	inserted := 0
	now := s.now().UTC()
	for _, entry := range entries {
		entry = normalize(entry, source, now)
		logger := s.log.With().Str("source_id", source.ID.String()).Str("content_hash", entry.ContentHash).Logger()

		exists, err := s.entries.EntryExists(ctx, entry.ContentHash)
		if err != nil {
			logger.Warn().Err(err).Msg("crawler: ошибка проверки записи")
			continue
		}
		if exists {
			continue
		}
		ok, err := s.entries.InsertEntry(ctx, entry)
		if err != nil {
			logger.Warn().Err(err).Msg("crawler: ошибка сохранения записи")
			continue
		}
		if ok {
			inserted++
		}
	}
	if inserted > 0 {
		metrics.EntriesIngested.WithLabelValues(string(source.Type)).Add(float64(inserted))
	}
	return inserted
}

func normalize(entry domain.ContentEntry, source domain.Source, now time.Time) domain.ContentEntry {
	entry.ContentHash = domain.ContentHash(entry.Title, entry.Link)
	entry.Title = truncateRunes(entry.Title, maxTitleRunes)
	entry.Summary = truncateRunes(entry.Summary, maxSummaryRunes)
	entry.Author = truncateRunes(entry.Author, maxAuthorRunes)
	if entry.SourceID == uuid.Nil {
		entry.SourceID = source.ID
	}
	if entry.SourceType == "" {
		entry.SourceType = source.Type
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = now
	}
	if entry.PublishedAt.IsZero() {
		entry.PublishedAt = now
	}
	return entry
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// Sweep удаляет записи, выгруженные раньше окна хранения.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.entries.DeleteEntriesFetchedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("очистка записей: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("crawler: удалены устаревшие записи")
	}
	return n, nil
}

// CrawlSource выгружает и сохраняет один источник.
func (s *Service) CrawlSource(ctx context.Context, source domain.Source) (fetched, inserted int) {
	entries := s.fetcher.Fetch(ctx, source)
	inserted = s.Store(ctx, entries, source)
	if err := s.sources.MarkCrawled(ctx, source.ID, s.now().UTC()); err != nil {
		s.log.Warn().Err(err).Str("source_id", source.ID.String()).Msg("crawler: не удалось отметить обход")
	}
	return len(entries), inserted
}

// CrawlBundle обходит активные источники бандла. Источники, обойдённые недавно, пропускаются:
// повторные попытки генерации не должны выгружать их на каждом тике.
func (s *Service) CrawlBundle(ctx context.Context, bundleID uuid.UUID) (Report, error) {
	sources, err := s.sources.ListBundleSources(ctx, bundleID)
	if err != nil {
		return Report{}, fmt.Errorf("источники бандла: %w", err)
	}
	cutoff := s.now().UTC().Add(-s.refresh)
	stale := sources[:0:0]
	for _, src := range sources {
		if src.LastCrawledAt != nil && src.LastCrawledAt.After(cutoff) {
			continue
		}
		stale = append(stale, src)
	}
	report := s.crawl(ctx, stale)
	report.Fresh = len(sources) - len(stale)
	return report, nil
}

// CrawlAll обходит все активные источники и завершает обход очисткой.
func (s *Service) CrawlAll(ctx context.Context) (Report, error) {
	sources, err := s.sources.ListActiveSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("активные источники: %w", err)
	}
	report := s.crawl(ctx, sources)
	swept, err := s.Sweep(ctx)
	if err != nil {
		return report, err
	}
	report.Swept = swept
	return report, nil
}

func (s *Service) crawl(ctx context.Context, sources []domain.Source) Report {
	var (
		mu     sync.Mutex
		report = Report{Sources: len(sources)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(crawlConcurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			fetched, inserted := s.CrawlSource(gctx, src)
			mu.Lock()
			report.Fetched += fetched
			report.Inserted += inserted
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// Run обходит источники сразу и затем с заданным интервалом до отмены ctx.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("crawler: запущен")
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("crawler: остановлен")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	start := time.Now()
	report, err := s.CrawlAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("crawler: ошибка обхода")
	}
	s.log.Info().
		Int("sources", report.Sources).
		Int("fetched", report.Fetched).
		Int("inserted", report.Inserted).
		Int64("swept", report.Swept).
		Dur("took", time.Since(start)).
		Msg("crawler: обход завершён")
}
