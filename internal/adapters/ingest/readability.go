package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// ArticleExtractor достаёт краткое содержание статьи со страницы, когда лента его не даёт.
type ArticleExtractor struct {
	client   *http.Client
	maxRunes int
}

// NewArticleExtractor создаёт экстрактор.
func NewArticleExtractor(client *http.Client) *ArticleExtractor {
	return &ArticleExtractor{client: client, maxRunes: 600}
}

// Excerpt возвращает выдержку статьи по ссылке.
func (e *ArticleExtractor) Excerpt(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil || pageURL.Host == "" {
		return "", fmt.Errorf("некорректная ссылка %q", link)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("статус %d", resp.StatusCode)
	}
	article, err := readability.FromReader(io.LimitReader(resp.Body, 4<<20), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.Excerpt)
	if text == "" {
		text = article.TextContent
	}
	return truncate(collapseSpaces(text), e.maxRunes), nil
}
