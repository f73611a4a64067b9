package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"creatorpulse/internal/domain"
)

const socialDateLayout = "Jan 2, 2006 · 3:04 PM MST"

var statusIDPattern = regexp.MustCompile(`/status/(\d+)`)

// SocialFetcher читает ленту аккаунта с HTML-зеркала (разметка nitter).
type SocialFetcher struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewSocialFetcher создаёт загрузчик ленты аккаунта.
func NewSocialFetcher(client *http.Client, baseURL string) *SocialFetcher {
	return &SocialFetcher{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// NormalizeHandle убирает ведущий @ и приводит имя к нижнему регистру.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

func (f *SocialFetcher) fetch(ctx context.Context, source domain.Source, limit int) ([]domain.ContentEntry, error) {
	handle := NormalizeHandle(source.Identifier)
	if handle == "" {
		return nil, errors.New("пустое имя аккаунта")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+url.PathEscape(handle), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("загрузка ленты @%s: %w", handle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("загрузка ленты @%s: статус %d", handle, resp.StatusCode)
	}
	return f.parse(io.LimitReader(resp.Body, 8<<20), source, handle, limit)
}

func (f *SocialFetcher) parse(r io.Reader, source domain.Source, handle string, limit int) ([]domain.ContentEntry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("разбор HTML: %w", err)
	}
	now := f.now()
	var entries []domain.ContentEntry
	doc.Find(".timeline-item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if len(entries) >= limit {
			return false
		}
		href, _ := item.Find("a.tweet-link").First().Attr("href")
		m := statusIDPattern.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		text := collapseSpaces(item.Find(".tweet-content").First().Text())
		if text == "" {
			return true
		}
		published := now
		if title, ok := item.Find(".tweet-date a").First().Attr("title"); ok {
			if ts, err := time.Parse(socialDateLayout, strings.TrimSpace(title)); err == nil {
				published = ts
			}
		}
		entries = append(entries, domain.ContentEntry{
			Title:       truncate(text, 100),
			Link:        fmt.Sprintf("https://twitter.com/%s/status/%s", handle, m[1]),
			Summary:     text,
			PublishedAt: published.UTC(),
			Author:      "@" + handle,
			SourceID:    source.ID,
			SourceType:  domain.SourceSocial,
			FetchedAt:   now.UTC(),
			Metadata: domain.EntryMetadata{
				Kind:       "tweet",
				Platform:   "twitter",
				Engagement: socialEngagement(item),
			},
		})
		return true
	})
	return entries, nil
}

func socialEngagement(item *goquery.Selection) *domain.Engagement {
	var e domain.Engagement
	item.Find(".tweet-stats .tweet-stat").Each(func(_ int, stat *goquery.Selection) {
		count := parseCount(stat.Text())
		switch {
		case stat.Find(".icon-heart").Length() > 0:
			e.Likes = count
		case stat.Find(".icon-retweet").Length() > 0:
			e.Shares = count
		case stat.Find(".icon-comment").Length() > 0:
			e.Comments = count
		case stat.Find(".icon-views, .icon-play").Length() > 0:
			e.Views = count
		}
	})
	return &e
}
