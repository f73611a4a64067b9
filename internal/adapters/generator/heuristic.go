package generator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
)

const summaryRunes = 280

// Heuristic собирает черновик из записей без обращения к модели.
type Heuristic struct {
	now func() time.Time
}

// NewHeuristic создаёт генератор.
func NewHeuristic() *Heuristic {
	return &Heuristic{now: time.Now}
}

// Generate реализует domain.Generator.
func (h *Heuristic) Generate(_ context.Context, req domain.GenerationRequest) (domain.Draft, error) {
	now := h.now().UTC()
	topic := strings.TrimSpace(req.Job.Topic)
	return domain.Draft{
		ID:         uuid.New(),
		JobID:      req.Job.ID,
		Topic:      topic,
		Title:      draftTitle(topic, now),
		Body:       FormatBody(req),
		EntryCount: len(req.Entries),
		CreatedAt:  now,
	}, nil
}

func draftTitle(topic string, now time.Time) string {
	if topic == "" {
		return "Your digest for " + now.Format("January 2, 2006")
	}
	return fmt.Sprintf("%s: highlights for %s", topic, now.Format("January 2, 2006"))
}

var sectionTitles = map[domain.SourceType]string{
	domain.SourceFeed:   "From the blogs",
	domain.SourceSocial: "On social",
	domain.SourceVideo:  "New videos",
}

// FormatBody строит markdown-тело черновика: всплески, тренды и разделы по типам источников.
func FormatBody(req domain.GenerationRequest) string {
	var sections []string

	if len(req.Spikes) > 0 {
		var b strings.Builder
		b.WriteString("## Breaking now\n")
		for _, s := range req.Spikes {
			b.WriteString("- " + link(s.ContentTitle, s.ContentURL) + "\n")
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}

	if len(req.Trends) > 0 {
		var b strings.Builder
		b.WriteString("## Trending\n")
		for _, t := range req.Trends {
			line := fmt.Sprintf("- %s (%.2f)", t.Keyword, t.Score)
			if t.Enrichment != nil && len(t.Enrichment.TrendingTopics) > 0 {
				line += ": " + strings.Join(filterNonEmpty(t.Enrichment.TrendingTopics), "; ")
			}
			b.WriteString(line + "\n")
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}

	order := []domain.SourceType{domain.SourceFeed, domain.SourceSocial, domain.SourceVideo}
	groups := make(map[domain.SourceType][]string)
	for _, item := range req.Entries {
		e := item.Entry
		line := "- " + link(e.Title, e.Link)
		if summary := strings.TrimSpace(e.Summary); summary != "" && summary != strings.TrimSpace(e.Title) {
			line += "\n  " + clip(summary, summaryRunes)
		}
		groups[e.SourceType] = append(groups[e.SourceType], line)
	}
	for _, t := range order {
		lines := groups[t]
		if len(lines) == 0 {
			continue
		}
		sections = append(sections, "## "+sectionTitles[t]+"\n"+strings.Join(lines, "\n"))
	}
	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

func link(title, url string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	if url = strings.TrimSpace(url); url == "" {
		return title
	}
	return fmt.Sprintf("[%s](%s)", title, url)
}

func filterNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}

var _ domain.Generator = (*Heuristic)(nil)
