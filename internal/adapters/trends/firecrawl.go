package trends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

const (
	defaultFirecrawlURL = "https://api.firecrawl.dev"
	searchLimit         = 10
	topicsLimit         = 5
)

// FirecrawlEnricher ищет свежие новости по ключевому слову через Firecrawl v2 search.
type FirecrawlEnricher struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewFirecrawlEnricher создаёт клиента поиска.
func NewFirecrawlEnricher(apiKey, baseURL string, timeout time.Duration) *FirecrawlEnricher {
	if baseURL == "" {
		baseURL = defaultFirecrawlURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FirecrawlEnricher{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type searchRequest struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources"`
	Limit   int      `json:"limit"`
}

type searchResponse struct {
	Total *int `json:"total"`
	Data  []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"data"`
}

// Enrich реализует domain.TrendEnricher.
func (e *FirecrawlEnricher) Enrich(ctx context.Context, keyword string) (domain.TrendEnrichment, error) {
	if e.apiKey == "" {
		return domain.TrendEnrichment{}, errors.New("firecrawl: api key is empty")
	}
	body, err := json.Marshal(searchRequest{Query: keyword, Sources: []string{"news"}, Limit: searchLimit})
	if err != nil {
		return domain.TrendEnrichment{}, fmt.Errorf("firecrawl: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v2/search", bytes.NewReader(body))
	if err != nil {
		return domain.TrendEnrichment{}, fmt.Errorf("firecrawl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	result, err := e.do(req)
	metrics.ObserveNetworkRequest("firecrawl", "search", "news", start, err)
	return result, err
}

func (e *FirecrawlEnricher) do(req *http.Request) (domain.TrendEnrichment, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return domain.TrendEnrichment{}, fmt.Errorf("firecrawl: do request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.TrendEnrichment{}, fmt.Errorf("firecrawl: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.TrendEnrichment{}, fmt.Errorf("firecrawl: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.TrendEnrichment{}, fmt.Errorf("firecrawl: decode response: %w", err)
	}
	out := domain.TrendEnrichment{RecentArticles: len(parsed.Data), TotalResults: len(parsed.Data)}
	if parsed.Total != nil {
		out.TotalResults = *parsed.Total
	}
	for i, item := range parsed.Data {
		if i >= topicsLimit {
			break
		}
		out.TrendingTopics = append(out.TrendingTopics, item.Title)
	}
	return out, nil
}

var _ domain.TrendEnricher = (*FirecrawlEnricher)(nil)
