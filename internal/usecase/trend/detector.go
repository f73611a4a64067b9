package trend

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

const (
	// DefaultRegion используется, если регион не задан.
	DefaultRegion = "US"

	relevanceWindow = 24 * time.Hour
	relevanceLimit  = 50
	defaultSource   = "trend_provider"
)

// Detector получает оценки трендов по ключевым словам и хранит их.
type Detector struct {
	provider domain.TrendProvider
	enricher domain.TrendEnricher
	trends   domain.TrendRepo
	source   string
	now      func() time.Time
	log      zerolog.Logger
}

// NewDetector создаёт детектор. provider и enricher могут быть nil.
func NewDetector(provider domain.TrendProvider, enricher domain.TrendEnricher, trends domain.TrendRepo, logger zerolog.Logger) *Detector {
	return &Detector{provider: provider, enricher: enricher, trends: trends, source: defaultSource, now: time.Now, log: logger}
}

// DetectForKeywords запрашивает оценку каждого ключевого слова и сохраняет результат.
// Недоступный провайдер даёт нулевую оценку, а не ошибку.
func (d *Detector) DetectForKeywords(ctx context.Context, keywords []string, region string) []domain.TrendRecord {
	if region == "" {
		region = DefaultRegion
	}
	now := d.now().UTC()
	records := make([]domain.TrendRecord, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		logger := d.log.With().Str("keyword", kw).Str("region", region).Logger()
		record := domain.TrendRecord{
			Keyword: kw,
			Score:   round(d.score(ctx, logger, kw, region), 2),
			Region:  region,
			Date:    now,
			Source:  d.source,
		}
		if d.enricher != nil {
			enrichment, err := d.enricher.Enrich(ctx, kw)
			if err != nil {
				logger.Warn().Err(err).Msg("trend: обогащение недоступно")
			} else {
				record.Enrichment = &enrichment
			}
		}
		if err := d.trends.UpsertTrend(ctx, record); err != nil {
			logger.Warn().Err(err).Msg("trend: не удалось сохранить оценку")
		}
		records = append(records, record)
	}
	return records
}

func (d *Detector) score(ctx context.Context, logger zerolog.Logger, keyword, region string) float64 {
	if d.provider == nil {
		return 0
	}
	score, err := d.provider.TrendScore(ctx, keyword, region)
	metrics.ObserveTrendLookup(err)
	if err != nil {
		logger.Warn().Err(err).Msg("trend: провайдер недоступен, оценка 0")
		return 0
	}
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return score
}

// Trending возвращает самые сильные тренды последних суток.
func (d *Detector) Trending(ctx context.Context, limit int) ([]domain.TrendRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	records, err := d.trends.ListTrendsSince(ctx, d.now().Add(-relevanceWindow), limit)
	if err != nil {
		return nil, fmt.Errorf("тренды: %w", err)
	}
	return records, nil
}

// Relevance оценивает в диапазоне [0, 1], насколько текст совпадает с текущими трендами:
// сумма оценок найденных в тексте ключевых слов делится на сумму всех известных оценок.
func (d *Detector) Relevance(ctx context.Context, content string, keywords []string) (float64, error) {
	records, err := d.trends.ListTrendsSince(ctx, d.now().Add(-relevanceWindow), relevanceLimit)
	if err != nil {
		return 0, fmt.Errorf("тренды: %w", err)
	}
	return Relevance(content, keywords, records), nil
}

// Relevance — чистая часть расчёта релевантности.
func Relevance(content string, keywords []string, records []domain.TrendRecord) float64 {
	known := make(map[string]float64, len(records))
	for _, r := range records {
		key := strings.ToLower(r.Keyword)
		if r.Score > known[key] {
			known[key] = r.Score
		}
	}
	var total float64
	for _, s := range known {
		total += s
	}
	if total <= 0 {
		return 0
	}

	content = strings.ToLower(content)
	seen := make(map[string]struct{}, len(keywords))
	var matched float64
	for _, kw := range keywords {
		key := strings.ToLower(strings.TrimSpace(kw))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if strings.Contains(content, key) {
			matched += known[key]
		}
	}
	return round(math.Min(matched/total, 1), 3)
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
