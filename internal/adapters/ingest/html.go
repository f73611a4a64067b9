package ingest

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText сводит HTML-фрагмент к тексту с нормализованными пробелами.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpaces(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpaces(fragment)
	}
	doc.Find("script, style").Remove()
	return collapseSpaces(doc.Text())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate обрезает строку до limit рун, добавляя "...".
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// parseCount разбирает счётчики вида "1,234", "12.5K" или "3M".
func parseCount(raw string) int64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0
	}
	mult := 1.0
	switch suffix := strings.ToUpper(raw[len(raw)-1:]); suffix {
	case "K":
		mult = 1_000
		raw = raw[:len(raw)-1]
	case "M":
		mult = 1_000_000
		raw = raw[:len(raw)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v * mult)
}
