package trends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

// HTTPProvider запрашивает оценку тренда у внешнего сервиса.
// Ожидается GET {base}/score?keyword=...&region=... с ответом {"score": <float>}.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPProvider создаёт клиента провайдера трендов.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// TrendScore реализует domain.TrendProvider.
func (p *HTTPProvider) TrendScore(ctx context.Context, keyword, region string) (float64, error) {
	if p.baseURL == "" {
		return 0, errors.New("trends: адрес провайдера не задан")
	}
	q := url.Values{}
	q.Set("keyword", keyword)
	if region != "" {
		q.Set("region", region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/score?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("trends: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	score, err := p.do(req)
	metrics.ObserveNetworkRequest("trends", "score", region, start, err)
	return score, err
}

func (p *HTTPProvider) do(req *http.Request) (float64, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("trends: do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("trends: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Score *float64 `json:"score"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return 0, fmt.Errorf("trends: decode response: %w", err)
	}
	if body.Score == nil {
		return 0, errors.New("trends: в ответе нет оценки")
	}
	return *body.Score, nil
}

var _ domain.TrendProvider = (*HTTPProvider)(nil)
