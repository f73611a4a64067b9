package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

const userAgent = "creatorpulse-crawler/1.0"

// Options задаёт параметры выгрузки.
type Options struct {
	Timeout          time.Duration
	Limit            int
	RatePerSecond    float64
	SocialBaseURL    string
	VideoFeedBaseURL string
	ExtractSummaries bool
}

type fetchFunc func(ctx context.Context, source domain.Source, limit int) ([]domain.ContentEntry, error)

// Ingestor выбирает загрузчик по типу источника и ограничивает время и частоту запросов.
type Ingestor struct {
	fetchers map[domain.SourceType]fetchFunc
	limiters map[domain.SourceType]*rate.Limiter
	timeout  time.Duration
	limit    int
	log      zerolog.Logger
}

// NewIngestor создаёт диспетчер загрузчиков.
func NewIngestor(opts Options, client *http.Client, logger zerolog.Logger) *Ingestor {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.VideoFeedBaseURL == "" {
		opts.VideoFeedBaseURL = "https://www.youtube.com/feeds/videos.xml"
	}
	if client == nil {
		client = &http.Client{}
	}
	var extractor *ArticleExtractor
	if opts.ExtractSummaries {
		extractor = NewArticleExtractor(client)
	}
	ing := &Ingestor{
		fetchers: map[domain.SourceType]fetchFunc{
			domain.SourceFeed:   NewFeedFetcher(client, extractor).fetch,
			domain.SourceVideo:  NewVideoFetcher(client, opts.VideoFeedBaseURL).fetch,
			domain.SourceSocial: NewSocialFetcher(client, opts.SocialBaseURL).fetch,
		},
		limiters: make(map[domain.SourceType]*rate.Limiter),
		timeout:  opts.Timeout,
		limit:    opts.Limit,
		log:      logger,
	}
	if opts.RatePerSecond > 0 {
		for t := range ing.fetchers {
			ing.limiters[t] = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
		}
	}
	return ing
}

// Fetch выгружает записи источника. Любая ошибка приводит к пустому результату и предупреждению в логе.
func (i *Ingestor) Fetch(ctx context.Context, source domain.Source) []domain.ContentEntry {
	logger := i.log.With().Str("source_id", source.ID.String()).Str("source_type", string(source.Type)).Logger()
	fetch, ok := i.fetchers[source.Type]
	if !ok {
		logger.Warn().Err(fmt.Errorf("%w: %q", domain.ErrUnknownSourceType, source.Type)).Msg("ingest: источник пропущен")
		return []domain.ContentEntry{}
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	if limiter := i.limiters[source.Type]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn().Err(err).Msg("ingest: лимит запросов, источник пропущен")
			return []domain.ContentEntry{}
		}
	}

	start := time.Now()
	entries, err := fetch(ctx, source, i.limit)
	metrics.ObserveNetworkRequest("ingest", "fetch", string(source.Type), start, err)
	if err != nil {
		metrics.IngestFailures.WithLabelValues(string(source.Type)).Inc()
		logger.Warn().Err(err).Str("identifier", source.Identifier).Msg("ingest: не удалось выгрузить источник")
		return []domain.ContentEntry{}
	}
	if entries == nil {
		entries = []domain.ContentEntry{}
	}
	for idx := range entries {
		entries[idx].ContentHash = domain.ContentHash(entries[idx].Title, entries[idx].Link)
	}
	logger.Debug().Int("entries", len(entries)).Msg("ingest: источник выгружен")
	return entries
}

var _ domain.Fetcher = (*Ingestor)(nil)
