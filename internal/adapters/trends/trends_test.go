package trends

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/cache"
)

func TestHTTPProviderTrendScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" || r.URL.Query().Get("keyword") != "go lang" || r.URL.Query().Get("region") != "US" {
			t.Errorf("неожиданный запрос: %s", r.URL.String())
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("ожидали заголовок авторизации")
		}
		_, _ = w.Write([]byte(`{"score": 6.5}`))
	}))
	defer srv.Close()

	score, err := NewHTTPProvider(srv.URL, "secret", time.Second).TrendScore(context.Background(), "go lang", "US")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if score != 6.5 {
		t.Fatalf("ожидали 6.5, получили %v", score)
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("keyword") == "missing" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", time.Second)
	if _, err := p.TrendScore(context.Background(), "x", "US"); err == nil {
		t.Fatalf("ожидали ошибку для статуса 502")
	}
	if _, err := p.TrendScore(context.Background(), "missing", "US"); err == nil {
		t.Fatalf("ожидали ошибку для ответа без оценки")
	}
	if _, err := NewHTTPProvider("", "", 0).TrendScore(context.Background(), "x", "US"); err == nil {
		t.Fatalf("ожидали ошибку без адреса")
	}
}

func TestFirecrawlEnrich(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/search" {
			t.Errorf("неожиданный запрос: %s %s", r.Method, r.URL.Path)
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("не удалось разобрать тело: %v", err)
		}
		if req.Query != "golang" || len(req.Sources) != 1 || req.Sources[0] != "news" || req.Limit != 10 {
			t.Errorf("неожиданное тело: %+v", req)
		}
		_, _ = w.Write([]byte(`{"total": 42, "data": [
			{"title": "a"}, {"title": "b"}, {"title": "c"}, {"title": "d"}, {"title": "e"}, {"title": "f"}
		]}`))
	}))
	defer srv.Close()

	got, err := NewFirecrawlEnricher("key", srv.URL, time.Second).Enrich(context.Background(), "golang")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.TotalResults != 42 || got.RecentArticles != 6 || len(got.TrendingTopics) != 5 {
		t.Fatalf("неожиданное обогащение: %+v", got)
	}
}

func TestFirecrawlRequiresKey(t *testing.T) {
	if _, err := NewFirecrawlEnricher("", "", 0).Enrich(context.Background(), "x"); err == nil {
		t.Fatalf("ожидали ошибку без ключа")
	}
}

type countingProvider struct {
	calls int
	err   error
}

func (c *countingProvider) TrendScore(context.Context, string, string) (float64, error) {
	c.calls++
	return 3.25, c.err
}

func TestCachedProvider(t *testing.T) {
	next := &countingProvider{}
	p := NewCachedProvider(next, cache.NewMemory(), time.Minute, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		score, err := p.TrendScore(ctx, " GoLang ", "us")
		if err != nil || score != 3.25 {
			t.Fatalf("неожиданный ответ: %v, %v", score, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("ожидали 1 запрос к провайдеру, получили %d", next.calls)
	}

	failing := &countingProvider{err: errors.New("down")}
	if _, err := NewCachedProvider(failing, cache.NewMemory(), time.Minute, zerolog.Nop()).TrendScore(ctx, "x", "US"); err == nil {
		t.Fatalf("ошибка провайдера должна возвращаться")
	}
}

type countingEnricher struct {
	calls int
	err   error
}

func (c *countingEnricher) Enrich(context.Context, string) (domain.TrendEnrichment, error) {
	c.calls++
	return domain.TrendEnrichment{TotalResults: 12, RecentArticles: 4, TrendingTopics: []string{"release"}}, c.err
}

func TestCachedEnricher(t *testing.T) {
	next := &countingEnricher{}
	e := NewCachedEnricher(next, cache.NewMemory(), time.Minute, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := e.Enrich(ctx, " GoLang ")
		if err != nil || got.TotalResults != 12 || len(got.TrendingTopics) != 1 {
			t.Fatalf("неожиданный ответ: %+v, %v", got, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("ожидали 1 поисковый запрос, получили %d", next.calls)
	}

	failing := &countingEnricher{err: errors.New("down")}
	if _, err := NewCachedEnricher(failing, cache.NewMemory(), time.Minute, zerolog.Nop()).Enrich(ctx, "x"); err == nil {
		t.Fatalf("ошибка поиска должна возвращаться")
	}
}
