package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"creatorpulse/internal/domain"
)

// FeedFetcher читает RSS/Atom ленты.
type FeedFetcher struct {
	parser    *gofeed.Parser
	extractor *ArticleExtractor
	now       func() time.Time
}

// NewFeedFetcher создаёт парсер лент. extractor может быть nil.
func NewFeedFetcher(client *http.Client, extractor *ArticleExtractor) *FeedFetcher {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &FeedFetcher{parser: parser, extractor: extractor, now: time.Now}
}

func (f *FeedFetcher) fetch(ctx context.Context, source domain.Source, limit int) ([]domain.ContentEntry, error) {
	url := strings.TrimSpace(source.Identifier)
	if url == "" {
		return nil, errors.New("пустой адрес ленты")
	}
	feed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("разбор ленты %s: %w", url, err)
	}
	now := f.now()
	entries := make([]domain.ContentEntry, 0, min(len(feed.Items), limit))
	for _, item := range feed.Items {
		if len(entries) >= limit {
			break
		}
		entry, ok := entryFromItem(item, now)
		if !ok {
			continue
		}
		if entry.Summary == "" && f.extractor != nil {
			if excerpt, err := f.extractor.Excerpt(ctx, entry.Link); err == nil {
				entry.Summary = excerpt
			}
		}
		entry.SourceID = source.ID
		entry.SourceType = domain.SourceFeed
		entry.Metadata = domain.EntryMetadata{Kind: "article"}
		entries = append(entries, entry)
	}
	return entries, nil
}

func entryFromItem(item *gofeed.Item, now time.Time) (domain.ContentEntry, bool) {
	if item == nil {
		return domain.ContentEntry{}, false
	}
	title := collapseSpaces(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" && link == "" {
		return domain.ContentEntry{}, false
	}
	published := now
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	return domain.ContentEntry{
		Title:       title,
		Link:        link,
		Summary:     HTMLToText(summary),
		PublishedAt: published.UTC(),
		Author:      itemAuthor(item),
		FetchedAt:   now.UTC(),
	}, true
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}
