package newsletter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/usecase/ingest"
	"creatorpulse/internal/usecase/scoring"
)

// ErrNoContent возвращается, если для рассылки нечего собирать.
var ErrNoContent = errors.New("нет контента для рассылки")

const (
	defaultLookback = 7 * 24 * time.Hour
	defaultMaxItems = 10
	trendsInDraft   = 10
)

// Crawler обновляет источники бандла перед сборкой.
type Crawler interface {
	CrawlBundle(ctx context.Context, bundleID uuid.UUID) (ingest.Report, error)
}

// Deps — зависимости конвейера.
type Deps struct {
	Jobs        domain.JobRepo
	Entries     domain.EntryRepo
	Drafts      domain.DraftRepo
	Generations domain.GenerationRepo
	Crawler     Crawler
	Spikes      SpikeSource
	Trends      TrendSource
	Generator   domain.Generator
	Notifier    domain.Notifier
}

// Pipeline собирает контент задачи, строит черновик и уведомляет получателей.
type Pipeline struct {
	deps     Deps
	maxItems int
	lookback time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewPipeline создаёт конвейер генерации.
func NewPipeline(deps Deps, maxItems int, logger zerolog.Logger) *Pipeline {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &Pipeline{deps: deps, maxItems: maxItems, lookback: defaultLookback, now: time.Now, log: logger}
}

// Run выполняет одну генерацию задачи. Ошибка уведомления не отменяет сохранённый черновик.
func (p *Pipeline) Run(ctx context.Context, job domain.AutoNewsletterJob) (domain.Draft, error) {
	logger := p.log.With().Str("job_id", job.ID.String()).Logger()
	now := p.now().UTC()

	newEntries := 0
	if p.deps.Crawler != nil {
		report, err := p.deps.Crawler.CrawlBundle(ctx, job.BundleID)
		if err != nil {
			logger.Warn().Err(err).Msg("newsletter: обход источников не удался, используем сохранённые записи")
		}
		newEntries = report.Inserted
	}

	entries, err := p.deps.Entries.ListEntries(ctx, domain.EntryFilter{BundleID: job.BundleID, Since: now.Add(-p.lookback)})
	if err != nil {
		return domain.Draft{}, fmt.Errorf("получение записей: %w", err)
	}
	entries = scoring.DeduplicateByLink(scoring.FilterRecent(entries, now.Add(-p.lookback)))
	scored := scoring.Top(scoring.Score(entries, job.Topic, now), p.maxItems)

	var spikes []domain.SpikeEvent
	if p.deps.Spikes != nil {
		if spikes, err = p.deps.Spikes.OpenSpikes(ctx, job.ID); err != nil {
			logger.Warn().Err(err).Msg("newsletter: не удалось получить всплески")
			spikes = nil
		}
	}
	trendCfg, isTrend := job.Schedule.Schedule.(domain.TrendBasedSchedule)
	var trends []domain.TrendRecord
	if isTrend && p.deps.Trends != nil {
		trends = p.jobTrends(ctx, logger, trendCfg)
	}

	if len(scored) == 0 && len(spikes) == 0 {
		return domain.Draft{}, ErrNoContent
	}

	draft, err := p.deps.Generator.Generate(ctx, domain.GenerationRequest{Job: job, Entries: scored, Spikes: spikes, Trends: trends})
	if err != nil {
		return domain.Draft{}, fmt.Errorf("генерация черновика: %w", err)
	}
	draft.JobID = job.ID
	if draft.Topic == "" {
		draft.Topic = job.Topic
	}
	if draft.EntryCount == 0 {
		draft.EntryCount = len(scored)
	}
	draft, err = p.deps.Drafts.SaveDraft(ctx, draft)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("сохранение черновика: %w", err)
	}
	if err := p.deps.Jobs.UpdateLastGenerated(ctx, job.ID, now); err != nil {
		return draft, fmt.Errorf("отметка генерации: %w", err)
	}

	spikeIDs := make([]uuid.UUID, 0, len(spikes))
	for _, s := range spikes {
		spikeIDs = append(spikeIDs, s.ID)
	}
	if len(spikeIDs) > 0 {
		if err := p.deps.Spikes.MarkProcessed(ctx, spikeIDs); err != nil {
			logger.Warn().Err(err).Msg("newsletter: не удалось отметить всплески")
		}
	}

	p.record(ctx, logger, job, draft, scored, spikes, trends, newEntries, trendCfg, isTrend)

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Notify(ctx, job, draft); err != nil {
			logger.Warn().Err(err).Str("draft_id", draft.ID.String()).Msg("newsletter: уведомление доставлено не всем получателям")
		}
	}
	logger.Info().Str("draft_id", draft.ID.String()).Int("entries", len(scored)).Int("spikes", len(spikes)).Msg("newsletter: черновик готов")
	return draft, nil
}

func (p *Pipeline) jobTrends(ctx context.Context, logger zerolog.Logger, cfg domain.TrendBasedSchedule) []domain.TrendRecord {
	records, err := p.deps.Trends.Trending(ctx, trendsInDraft*5)
	if err != nil {
		logger.Warn().Err(err).Msg("newsletter: не удалось получить тренды")
		return nil
	}
	wanted := make(map[string]struct{})
	for _, kw := range cfg.CleanKeywords() {
		wanted[strings.ToLower(kw)] = struct{}{}
	}
	out := make([]domain.TrendRecord, 0, len(wanted))
	for _, r := range records {
		if _, ok := wanted[strings.ToLower(r.Keyword)]; ok && len(out) < trendsInDraft {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, logger zerolog.Logger, job domain.AutoNewsletterJob, draft domain.Draft, scored []domain.ScoredEntry, spikes []domain.SpikeEvent, trends []domain.TrendRecord, newEntries int, trendCfg domain.TrendBasedSchedule, isTrend bool) {
	if p.deps.Generations == nil {
		return
	}
	sources := make(map[uuid.UUID]struct{})
	for _, e := range scored {
		sources[e.Entry.SourceID] = struct{}{}
	}
	rec := domain.GenerationRecord{
		JobID:           job.ID,
		DraftID:         draft.ID,
		GeneratedAt:     p.now().UTC(),
		SourcesUsed:     len(sources),
		NewEntries:      newEntries,
		TrendsDetected:  len(trends),
		SpikesProcessed: len(spikes),
	}
	if len(spikes) > 0 {
		var sum float64
		for _, s := range spikes {
			sum += s.SpikeScore
		}
		impact := sum / float64(len(spikes))
		rec.SpikeImpact = &impact
	}
	if isTrend && p.deps.Trends != nil {
		relevance, err := p.deps.Trends.Relevance(ctx, draft.Title+"\n"+draft.Body, trendCfg.CleanKeywords())
		if err != nil {
			logger.Warn().Err(err).Msg("newsletter: не удалось оценить релевантность трендам")
		} else {
			rec.TrendRelevance = &relevance
		}
	}
	if err := p.deps.Generations.RecordGeneration(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("newsletter: не удалось сохранить аналитику генерации")
	}
}
