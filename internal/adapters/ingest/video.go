package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"creatorpulse/internal/domain"
)

var (
	channelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/channel/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/c/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/@([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/user/([a-zA-Z0-9_-]+)`),
	}
	bareChannelID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?(?:.*&)?v=([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]+)`),
	}
)

// ChannelID извлекает идентификатор канала из ссылки или возвращает сам идентификатор.
func ChannelID(identifier string) (string, bool) {
	identifier = strings.TrimSpace(identifier)
	for _, re := range channelPatterns {
		if m := re.FindStringSubmatch(identifier); m != nil {
			return m[1], true
		}
	}
	if bareChannelID.MatchString(identifier) {
		return identifier, true
	}
	return "", false
}

// VideoID извлекает идентификатор ролика из ссылки.
func VideoID(link string) (string, bool) {
	for _, re := range videoPatterns {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// VideoFetcher читает RSS видеоканала.
type VideoFetcher struct {
	parser  *gofeed.Parser
	baseURL string
	now     func() time.Time
}

// NewVideoFetcher создаёт загрузчик лент каналов. baseURL — адрес вида https://www.youtube.com/feeds/videos.xml.
func NewVideoFetcher(client *http.Client, baseURL string) *VideoFetcher {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &VideoFetcher{parser: parser, baseURL: baseURL, now: time.Now}
}

func (f *VideoFetcher) fetch(ctx context.Context, source domain.Source, limit int) ([]domain.ContentEntry, error) {
	channelID, ok := ChannelID(source.Identifier)
	if !ok {
		return nil, fmt.Errorf("некорректный идентификатор канала %q", source.Identifier)
	}
	feedURL := f.baseURL + "?channel_id=" + url.QueryEscape(channelID)
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("разбор ленты канала %s: %w", channelID, err)
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
		videoID, ok := VideoID(entry.Link)
		if !ok {
			continue
		}
		if entry.Summary == "" {
			entry.Summary = collapseSpaces(mediaDescription(item))
		}
		entry.SourceID = source.ID
		entry.SourceType = domain.SourceVideo
		entry.Metadata = domain.EntryMetadata{
			Kind:       "video",
			Platform:   "youtube",
			VideoID:    videoID,
			ChannelID:  channelID,
			Engagement: mediaEngagement(item),
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mediaGroup(item *gofeed.Item) (ext.Extension, bool) {
	media, ok := item.Extensions["media"]
	if !ok {
		return ext.Extension{}, false
	}
	groups := media["group"]
	if len(groups) == 0 {
		return ext.Extension{}, false
	}
	return groups[0], true
}

func mediaDescription(item *gofeed.Item) string {
	group, ok := mediaGroup(item)
	if !ok {
		return ""
	}
	if desc := group.Children["description"]; len(desc) > 0 {
		return desc[0].Value
	}
	return ""
}

// mediaEngagement читает media:community: statistics@views и starRating@count.
func mediaEngagement(item *gofeed.Item) *domain.Engagement {
	group, ok := mediaGroup(item)
	if !ok {
		return nil
	}
	communities := group.Children["community"]
	if len(communities) == 0 {
		return nil
	}
	community := communities[0]
	var e domain.Engagement
	if stats := community.Children["statistics"]; len(stats) > 0 {
		e.Views = parseCount(stats[0].Attrs["views"])
	}
	if ratings := community.Children["starRating"]; len(ratings) > 0 {
		e.Likes = parseCount(ratings[0].Attrs["count"])
	}
	if e == (domain.Engagement{}) {
		return nil
	}
	return &e
}
