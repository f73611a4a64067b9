package scoring

import (
	"sort"
	"strings"
	"time"

	"creatorpulse/internal/domain"
)

const recencyHorizonDays = 30.0

// Score оценивает записи как свежесть × релевантность теме и сортирует по убыванию оценки.
// Функция чистая: одинаковые входные данные дают одинаковый порядок.
func Score(entries []domain.ContentEntry, topic string, now time.Time) []domain.ScoredEntry {
	topic = strings.ToLower(strings.TrimSpace(topic))
	out := make([]domain.ScoredEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.ScoredEntry{Entry: e, Score: Recency(e.PublishedAt, now) * Relevance(e, topic)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.PublishedAt.Equal(b.Entry.PublishedAt) {
			return a.Entry.PublishedAt.After(b.Entry.PublishedAt)
		}
		return a.Entry.ContentHash < b.Entry.ContentHash
	})
	return out
}

// Recency линейно убывает от 1 до 0 за 30 дней. Даты из будущего считаются текущими.
func Recency(published, now time.Time) float64 {
	ageDays := now.Sub(published).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	r := 1 - ageDays/recencyHorizonDays
	if r < 0 {
		return 0
	}
	return r
}

// Relevance ожидает тему в нижнем регистре.
func Relevance(e domain.ContentEntry, topic string) float64 {
	if topic == "" {
		return 1.0
	}
	switch {
	case strings.Contains(strings.ToLower(e.Title), topic):
		return 1.5
	case strings.Contains(strings.ToLower(e.Summary), topic):
		return 1.2
	}
	return 1.0
}

// Top оставляет n лучших записей.
func Top(scored []domain.ScoredEntry, n int) []domain.ScoredEntry {
	if n <= 0 || len(scored) <= n {
		return scored
	}
	return scored[:n]
}

// FilterRecent отбрасывает записи, опубликованные раньше since.
func FilterRecent(entries []domain.ContentEntry, since time.Time) []domain.ContentEntry {
	out := make([]domain.ContentEntry, 0, len(entries))
	for _, e := range entries {
		if e.PublishedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DeduplicateByLink удаляет записи с одинаковыми ссылками, сохраняя первую.
func DeduplicateByLink(entries []domain.ContentEntry) []domain.ContentEntry {
	seen := make(map[string]struct{})
	out := make([]domain.ContentEntry, 0, len(entries))
	for _, e := range entries {
		key := e.Link
		if key == "" {
			key = e.ContentHash
		}
		if key == "" {
			out = append(out, e)
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
