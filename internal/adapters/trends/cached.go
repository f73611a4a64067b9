package trends

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
)

// CachedProvider хранит оценки провайдера в кеше, чтобы задачи с общими словами не дублировали запросы.
type CachedProvider struct {
	next  domain.TrendProvider
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedProvider оборачивает провайдера кешем.
func NewCachedProvider(next domain.TrendProvider, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, log: logger}
}

// TrendScore реализует domain.TrendProvider. Ошибки кеша не мешают запросу к провайдеру.
func (c *CachedProvider) TrendScore(ctx context.Context, keyword, region string) (float64, error) {
	key := cacheKey(keyword, region)
	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		if score, perr := strconv.ParseFloat(string(raw), 64); perr == nil {
			return score, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		c.log.Warn().Err(err).Str("key", key).Msg("trends: кеш недоступен")
	}

	score, err := c.next.TrendScore(ctx, keyword, region)
	if err != nil {
		return 0, err
	}
	if err := c.cache.Set(ctx, key, []byte(strconv.FormatFloat(score, 'f', -1, 64)), c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("trends: не удалось записать кеш")
	}
	return score, nil
}

func cacheKey(keyword, region string) string {
	return "trend:" + strings.ToUpper(region) + ":" + strings.ToLower(strings.TrimSpace(keyword))
}

// CachedEnricher хранит результаты новостного поиска в кеше: шлюз трендов опрашивает их на каждом тике.
type CachedEnricher struct {
	next  domain.TrendEnricher
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedEnricher оборачивает обогащение кешем.
func NewCachedEnricher(next domain.TrendEnricher, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *CachedEnricher {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &CachedEnricher{next: next, cache: cache, ttl: ttl, log: logger}
}

// Enrich реализует domain.TrendEnricher.
func (c *CachedEnricher) Enrich(ctx context.Context, keyword string) (domain.TrendEnrichment, error) {
	key := "enrich:" + strings.ToLower(strings.TrimSpace(keyword))
	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cached domain.TrendEnrichment
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return cached, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		c.log.Warn().Err(err).Str("key", key).Msg("trends: кеш недоступен")
	}

	out, err := c.next.Enrich(ctx, keyword)
	if err != nil {
		return domain.TrendEnrichment{}, err
	}
	if payload, jerr := json.Marshal(out); jerr == nil {
		if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("trends: не удалось записать кеш")
		}
	}
	return out, nil
}

var (
	_ domain.TrendProvider = (*CachedProvider)(nil)
	_ domain.TrendEnricher = (*CachedEnricher)(nil)
)
