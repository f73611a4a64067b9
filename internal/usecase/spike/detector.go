package spike

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

const (
	// DefaultThreshold — порог z-оценки по умолчанию.
	DefaultThreshold = 2.0
	// DefaultWindow — окно выборки по умолчанию.
	DefaultWindow = 24 * time.Hour

	minSamples = 3
	tolerance  = 1e-9
)

// Options задаёт параметры обнаружения.
type Options struct {
	Threshold float64
	Window    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	return o
}

// Detector ищет записи с аномальной вовлечённостью по источникам бандла задачи.
type Detector struct {
	jobs    domain.JobRepo
	sources domain.SourceRepo
	entries domain.EntryRepo
	spikes  domain.SpikeRepo
	now     func() time.Time
	log     zerolog.Logger
}

// NewDetector создаёт детектор всплесков.
func NewDetector(jobs domain.JobRepo, sources domain.SourceRepo, entries domain.EntryRepo, spikes domain.SpikeRepo, logger zerolog.Logger) *Detector {
	return &Detector{jobs: jobs, sources: sources, entries: entries, spikes: spikes, now: time.Now, log: logger}
}

// Detect проверяет источники бандла задачи и возвращает впервые записанные всплески.
// Повторный запуск в тот же день не создаёт дублей.
func (d *Detector) Detect(ctx context.Context, jobID uuid.UUID, opts Options) ([]domain.SpikeEvent, error) {
	opts = opts.withDefaults()
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("задача %s: %w", jobID, err)
	}
	sources, err := d.sources.ListBundleSources(ctx, job.BundleID)
	if err != nil {
		return nil, fmt.Errorf("источники бандла: %w", err)
	}

	now := d.now().UTC()
	var recorded []domain.SpikeEvent
	for _, src := range sources {
		logger := d.log.With().Str("job_id", jobID.String()).Str("source_id", src.ID.String()).Logger()
		entries, err := d.entries.ListEntries(ctx, domain.EntryFilter{SourceIDs: []uuid.UUID{src.ID}, Since: now.Add(-opts.Window)})
		if err != nil {
			logger.Warn().Err(err).Msg("spike: не удалось получить записи источника")
			continue
		}
		for _, event := range detectSource(jobID, src.ID, entries, opts.Threshold, now) {
			inserted, err := d.spikes.InsertSpike(ctx, event)
			if err != nil {
				logger.Warn().Err(err).Str("content_hash", event.ContentHash).Msg("spike: не удалось сохранить событие")
				continue
			}
			if !inserted {
				continue
			}
			metrics.SpikesDetected.Inc()
			logger.Info().Float64("score", event.SpikeScore).Str("title", event.ContentTitle).Msg("spike: обнаружен всплеск")
			recorded = append(recorded, event)
		}
	}
	return recorded, nil
}

func detectSource(jobID, sourceID uuid.UUID, entries []domain.ContentEntry, threshold float64, now time.Time) []domain.SpikeEvent {
	if len(entries) < minSamples {
		return nil
	}
	scores := make([]float64, len(entries))
	for i, e := range entries {
		scores[i] = EngagementScore(e, now)
	}
	idx, mean := Outliers(scores, threshold)
	events := make([]domain.SpikeEvent, 0, len(idx))
	for _, i := range idx {
		e := entries[i]
		events = append(events, domain.SpikeEvent{
			ID:           uuid.New(),
			JobID:        jobID,
			SourceID:     sourceID,
			SpikeScore:   scores[i],
			Reason:       fmt.Sprintf("Engagement spike: %.2f vs mean %.2f", scores[i], mean),
			ContentHash:  e.ContentHash,
			ContentTitle: e.Title,
			ContentURL:   e.Link,
			DetectedAt:   now,
		})
	}
	return events
}

// EngagementScore = 0.4·свежесть + 0.4·вовлечённость + 0.2·сигнал источника, округлено до тысячных.
func EngagementScore(e domain.ContentEntry, now time.Time) float64 {
	ageHours := now.Sub(e.PublishedAt).Hours()
	recency := math.Max(0, 10-ageHours)

	engagement := 0.0
	if eng := e.Metadata.Engagement; eng != nil {
		engagement = 0.1*float64(eng.Likes) +
			0.3*float64(eng.Shares) +
			0.2*float64(eng.Comments) +
			0.001*float64(eng.Views)
	}
	signal := 1.0
	if e.Metadata.SignalScore != nil {
		signal = *e.Metadata.SignalScore
	}
	return round(0.4*recency+0.4*engagement+0.2*signal, 3)
}

// Outliers возвращает индексы значений выше mean + threshold·σ и среднее выборки.
// σ — стандартное отклонение генеральной совокупности; при σ = 0 выбросов нет.
func Outliers(scores []float64, threshold float64) ([]int, float64) {
	if len(scores) < minSamples {
		return nil, 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	var sq float64
	for _, s := range scores {
		sq += (s - mean) * (s - mean)
	}
	stddev := math.Sqrt(sq / float64(len(scores)))
	if stddev <= tolerance {
		return nil, mean
	}
	limit := mean + threshold*stddev
	var idx []int
	for i, s := range scores {
		if s > limit+tolerance {
			idx = append(idx, i)
		}
	}
	return idx, mean
}

// OpenSpikes возвращает необработанные события задачи.
func (d *Detector) OpenSpikes(ctx context.Context, jobID uuid.UUID) ([]domain.SpikeEvent, error) {
	return d.spikes.ListOpenSpikes(ctx, jobID)
}

// MarkProcessed помечает события обработанными.
func (d *Detector) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return d.spikes.MarkSpikesProcessed(ctx, ids)
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
