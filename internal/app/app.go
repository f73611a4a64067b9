// Package app собирает зависимости процессов из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"creatorpulse/internal/adapters/generator"
	ingestadapter "creatorpulse/internal/adapters/ingest"
	"creatorpulse/internal/adapters/notifier"
	"creatorpulse/internal/adapters/repo"
	"creatorpulse/internal/adapters/trends"
	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/cache"
	"creatorpulse/internal/infra/config"
	"creatorpulse/internal/infra/db"
	logpkg "creatorpulse/internal/infra/log"
	"creatorpulse/internal/infra/openai"
	"creatorpulse/internal/infra/queue"
	"creatorpulse/internal/usecase/ingest"
	"creatorpulse/internal/usecase/newsletter"
	"creatorpulse/internal/usecase/schedule"
	"creatorpulse/internal/usecase/spike"
	"creatorpulse/internal/usecase/trend"
)

const (
	trendTimeout     = 10 * time.Second
	generatorTimeout = 60 * time.Second
)

// App держит собранные сервисы и освобождает ресурсы в Close.
type App struct {
	Config config.AppConfig
	Log    zerolog.Logger

	Store domain.Store
	Cache domain.Cache
	Lease domain.JobLease

	Ingest    *ingest.Service
	Spikes    *spike.Detector
	Trends    *trend.Detector
	Schedules *schedule.Service
	Engine    *schedule.Engine
	Pipeline  *newsletter.Pipeline
	Feed      *notifier.DraftFeed
	// Alerts задан, если настроен чат операторов.
	Alerts *notifier.Telegram

	closers []func()
}

// New подключает хранилище, кэш и внешние клиенты по конфигурации.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Cache = cache.NewRedis(rdb, "creatorpulse:cache:")
		a.Lease = cache.NewRedisLease(rdb, "creatorpulse:lease:")
	} else {
		mem := cache.NewMemory()
		a.Cache, a.Lease = mem, mem
	}

	a.Ingest = ingest.NewService(a.Store, a.Store, ingestadapter.NewIngestor(ingestadapter.Options{
		Timeout:          cfg.Ingest.Timeout,
		Limit:            cfg.Ingest.Limit,
		RatePerSecond:    cfg.Ingest.RatePerSecond,
		SocialBaseURL:    cfg.Ingest.SocialBaseURL,
		VideoFeedBaseURL: cfg.Ingest.VideoFeedBaseURL,
		ExtractSummaries: cfg.Ingest.ExtractSummaries,
	}, &http.Client{}, logpkg.Component(logger, "ingest")), cfg.Ingest.Retention, cfg.Ingest.CrawlInterval, logpkg.Component(logger, "crawler"))
	a.Ingest.SetRefreshAfter(cfg.Ingest.RefreshAfter)

	a.Spikes = spike.NewDetector(a.Store, a.Store, a.Store, a.Store, logpkg.Component(logger, "spike"))
	a.Trends = trend.NewDetector(a.trendProvider(), a.trendEnricher(), a.Store, logpkg.Component(logger, "trend"))
	a.Schedules = schedule.NewService(a.Store, a.Store)
	a.Engine = schedule.NewEngine(newsletter.NewSignals(a.Spikes, a.Trends, cfg.Limits.SpikeWindow))

	notify, err := a.notifier(rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Feed = notifier.NewDraftFeed(a.Store, cfg.Notify.DraftBaseURL, logpkg.Component(logger, "feed"))
	a.Pipeline = newsletter.NewPipeline(newsletter.Deps{
		Jobs:        a.Store,
		Entries:     a.Store,
		Drafts:      a.Store,
		Generations: a.Store,
		Crawler:     a.Ingest,
		Spikes:      a.Spikes,
		Trends:      a.Trends,
		Generator:   a.generator(),
		Notifier:    notify,
	}, cfg.Limits.DigestMax, logpkg.Component(logger, "newsletter"))
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.StoreDriver == "memory" {
		a.Log.Warn().Msg("app: используется хранилище в памяти, данные не переживут перезапуск")
		a.Store = repo.NewMemory()
		return nil
	}
	pool, err := db.Connect(ctx, a.Config.PGDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)
	pg := repo.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("миграции: %w", err)
	}
	a.Store = pg
	return nil
}

func (a *App) trendProvider() domain.TrendProvider {
	if a.Config.Trends.ProviderURL == "" {
		a.Log.Warn().Msg("app: TREND_PROVIDER_URL не задан, оценки трендов будут нулевыми")
		return nil
	}
	provider := trends.NewHTTPProvider(a.Config.Trends.ProviderURL, a.Config.Trends.ProviderKey, trendTimeout)
	return trends.NewCachedProvider(provider, a.Cache, a.Config.Trends.CacheTTL, logpkg.Component(a.Log, "trend_cache"))
}

func (a *App) trendEnricher() domain.TrendEnricher {
	if a.Config.Trends.FirecrawlAPIKey == "" {
		return nil
	}
	enricher := trends.NewFirecrawlEnricher(a.Config.Trends.FirecrawlAPIKey, a.Config.Trends.FirecrawlURL, trendTimeout)
	return trends.NewCachedEnricher(enricher, a.Cache, a.Config.Trends.EnrichCacheTTL, logpkg.Component(a.Log, "enrich_cache"))
}

func (a *App) generator() domain.Generator {
	if a.Config.OpenAI.APIKey == "" {
		return generator.NewHeuristic()
	}
	client := openai.NewClient(a.Config.OpenAI.APIKey, a.Config.OpenAI.BaseURL, generatorTimeout)
	return generator.NewOpenAI(client, a.Config.OpenAI.Model, a.Config.OpenAI.MaxTokens, a.Config.OpenAI.Temperature, generatorTimeout)
}

func (a *App) notifier(rdb redis.UniversalClient) (domain.Notifier, error) {
	cfg := a.Config.Notify
	logger := logpkg.Component(a.Log, "notifier")
	var primary domain.Notifier
	switch cfg.Backend {
	case "rabbitmq":
		q, err := queue.NewRabbitNotificationQueue(a.Config.RabbitMQURL, cfg.Queue)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func() { _ = q.Close() })
		primary = notifier.NewQueue(q, cfg.DraftBaseURL, logger)
	case "redis":
		if rdb == nil {
			return nil, errors.New("NOTIFY_BACKEND=redis требует REDIS_ADDR")
		}
		primary = notifier.NewQueue(queue.NewRedisNotificationQueue(rdb, cfg.Queue), cfg.DraftBaseURL, logger)
	default:
		primary = notifier.NewLog(logger)
	}

	if cfg.AlertToken == "" || cfg.AlertChatID == 0 {
		return primary, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.AlertToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	a.Alerts = notifier.NewTelegram(bot, cfg.AlertChatID, cfg.DraftBaseURL, logpkg.Component(a.Log, "alerts"))
	return notifier.Multi{primary, a.Alerts}, nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
