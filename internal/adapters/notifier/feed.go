package notifier

import (
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/feeds"
	"github.com/rs/zerolog"

	"creatorpulse/internal/domain"
)

const feedItems = 50

// DraftFeed отдаёт последние черновики Atom-лентой, чтобы редакторы могли подписаться.
type DraftFeed struct {
	drafts       domain.DraftRepo
	draftBaseURL string
	log          zerolog.Logger
}

// NewDraftFeed создаёт обработчик ленты.
func NewDraftFeed(drafts domain.DraftRepo, draftBaseURL string, logger zerolog.Logger) *DraftFeed {
	return &DraftFeed{drafts: drafts, draftBaseURL: draftBaseURL, log: logger}
}

// Build собирает ленту из черновиков.
func (f *DraftFeed) Build(drafts []domain.Draft, now time.Time) (string, error) {
	feed := &feeds.Feed{
		Title:       "CreatorPulse drafts",
		Link:        &feeds.Link{Href: f.draftBaseURL},
		Description: "Newsletter drafts generated by the scheduler",
		Created:     now,
	}
	feed.Items = make([]*feeds.Item, 0, len(drafts))
	for _, d := range drafts {
		link := DraftURL(f.draftBaseURL, d.ID)
		description := d.Body
		if utf8.RuneCountInString(description) > 500 {
			description = string([]rune(description)[:500]) + "…"
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          "urn:uuid:" + d.ID.String(),
			Title:       d.Title,
			Link:        &feeds.Link{Href: link},
			Description: description,
			Created:     d.CreatedAt,
		})
		if d.CreatedAt.After(feed.Updated) {
			feed.Updated = d.CreatedAt
		}
	}
	atom, err := feed.ToAtom()
	if err != nil {
		return "", fmt.Errorf("сборка atom-ленты: %w", err)
	}
	return atom, nil
}

// ServeHTTP реализует http.Handler.
func (f *DraftFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	drafts, err := f.drafts.ListDrafts(r.Context(), feedItems)
	if err != nil {
		f.log.Error().Err(err).Msg("feed: не удалось получить черновики")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	atom, err := f.Build(drafts, time.Now().UTC())
	if err != nil {
		f.log.Error().Err(err).Msg("feed: не удалось собрать ленту")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	_, _ = w.Write([]byte(atom))
}

var _ http.Handler = (*DraftFeed)(nil)
