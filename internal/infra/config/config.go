package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`

	PGDSN       string `envconfig:"PG_DSN"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	Notify struct {
		Backend      string `envconfig:"NOTIFY_BACKEND" default:"log"`
		Queue        string `envconfig:"NOTIFY_QUEUE" default:"newsletter_notifications"`
		DraftBaseURL string `envconfig:"DRAFT_BASE_URL" default:"http://localhost:3000/drafts"`
		AlertToken   string `envconfig:"ALERT_TG_TOKEN"`
		AlertChatID  int64  `envconfig:"ALERT_TG_CHAT"`
	} `envconfig:""`

	OpenAI struct {
		APIKey      string  `envconfig:"OPENAI_API_KEY"`
		BaseURL     string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
		Model       string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		MaxTokens   int     `envconfig:"OPENAI_MAX_TOKENS" default:"1200"`
		Temperature float32 `envconfig:"OPENAI_TEMPERATURE" default:"0.4"`
	} `envconfig:""`

	Trends struct {
		ProviderURL     string        `envconfig:"TREND_PROVIDER_URL"`
		ProviderKey     string        `envconfig:"TREND_PROVIDER_KEY"`
		CacheTTL        time.Duration `envconfig:"TREND_CACHE_TTL" default:"1h"`
		FirecrawlAPIKey string        `envconfig:"FIRECRAWL_API_KEY"`
		FirecrawlURL    string        `envconfig:"FIRECRAWL_BASE_URL" default:"https://api.firecrawl.dev"`
		EnrichCacheTTL  time.Duration `envconfig:"TREND_ENRICH_CACHE_TTL" default:"6h"`
	} `envconfig:""`

	Scheduler struct {
		Interval   time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s"`
		Backoff    time.Duration `envconfig:"SCHEDULER_BACKOFF" default:"5m"`
		JobTimeout time.Duration `envconfig:"SCHEDULER_JOB_TIMEOUT" default:"10m"`
		Workers    int           `envconfig:"SCHEDULER_WORKERS" default:"1"`
		LeaseTTL   time.Duration `envconfig:"SCHEDULER_LEASE_TTL" default:"15m"`
	} `envconfig:""`

	Ingest struct {
		Timeout          time.Duration `envconfig:"INGEST_TIMEOUT" default:"10s"`
		Limit            int           `envconfig:"INGEST_LIMIT" default:"20"`
		RatePerSecond    float64       `envconfig:"INGEST_RATE_PER_SECOND" default:"2"`
		SocialBaseURL    string        `envconfig:"SOCIAL_BASE_URL" default:"https://nitter.net"`
		VideoFeedBaseURL string        `envconfig:"VIDEO_FEED_BASE_URL" default:"https://www.youtube.com/feeds/videos.xml"`
		CrawlInterval    time.Duration `envconfig:"CRAWL_INTERVAL" default:"6h"`
		RefreshAfter     time.Duration `envconfig:"INGEST_REFRESH_AFTER" default:"30m"`
		Retention        time.Duration `envconfig:"ENTRY_RETENTION" default:"720h"`
		ExtractSummaries bool          `envconfig:"INGEST_EXTRACT_SUMMARIES" default:"false"`
	} `envconfig:""`

	Limits struct {
		SpikeWindow time.Duration `envconfig:"SPIKE_WINDOW" default:"24h"`
		DigestMax   int           `envconfig:"DIGEST_MAX_ITEMS" default:"10"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Parse читает конфигурацию из окружения.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	switch cfg.StoreDriver {
	case "postgres", "memory":
	default:
		return AppConfig{}, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.Notify.Backend {
	case "rabbitmq", "redis", "log":
	default:
		return AppConfig{}, fmt.Errorf("неизвестный NOTIFY_BACKEND %q", cfg.Notify.Backend)
	}
	if cfg.StoreDriver == "postgres" && cfg.PGDSN == "" {
		return AppConfig{}, errors.New("PG_DSN обязателен для STORE_DRIVER=postgres")
	}
	if cfg.Scheduler.Workers < 1 {
		cfg.Scheduler.Workers = 1
	}
	return cfg, nil
}

// Load загружает .env (если есть) и конфиг из окружения.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("не удалось прочитать .env: %v", err)
	}
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
