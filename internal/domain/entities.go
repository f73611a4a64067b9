package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SourceType описывает вид источника контента.
type SourceType string

const (
	// SourceFeed — RSS/Atom лента.
	SourceFeed SourceType = "feed"
	// SourceSocial — аккаунт в социальной сети.
	SourceSocial SourceType = "social"
	// SourceVideo — видеоканал.
	SourceVideo SourceType = "video"
)

// Valid сообщает, поддерживается ли тип источника.
func (t SourceType) Valid() bool {
	switch t {
	case SourceFeed, SourceSocial, SourceVideo:
		return true
	}
	return false
}

// Bundle — именованный набор источников, из которого собирается рассылка.
type Bundle struct {
	ID    uuid.UUID
	Key   string
	Label string
}

// Source описывает один источник контента в составе бандла.
type Source struct {
	ID            uuid.UUID
	Type          SourceType
	Identifier    string
	BundleID      uuid.UUID
	IsActive      bool
	LastCrawledAt *time.Time
}

// Engagement хранит показатели вовлечённости записи.
type Engagement struct {
	Likes    int64 `json:"likes,omitempty"`
	Shares   int64 `json:"shares,omitempty"`
	Comments int64 `json:"comments,omitempty"`
	Views    int64 `json:"views,omitempty"`
}

// EntryMetadata — метаданные записи, специфичные для типа источника.
type EntryMetadata struct {
	Kind        string      `json:"type,omitempty"`
	Platform    string      `json:"platform,omitempty"`
	VideoID     string      `json:"video_id,omitempty"`
	ChannelID   string      `json:"channel_id,omitempty"`
	Engagement  *Engagement `json:"engagement,omitempty"`
	SignalScore *float64    `json:"signal_score,omitempty"`
}

// ContentEntry — нормализованная запись из любого источника.
type ContentEntry struct {
	ID          uuid.UUID
	Title       string
	Link        string
	Summary     string
	PublishedAt time.Time
	Author      string
	SourceID    uuid.UUID
	SourceType  SourceType
	ContentHash string
	Metadata    EntryMetadata
	FetchedAt   time.Time
}

// ScoredEntry — запись с вычисленной оценкой. Оценка не сохраняется.
type ScoredEntry struct {
	Entry ContentEntry
	Score float64
}

// AutoNewsletterJob описывает автоматическую рассылку.
type AutoNewsletterJob struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	BundleID        uuid.UUID
	IsActive        bool
	Topic           string
	Schedule        ScheduleConfig
	EmailRecipients []string
	LastGeneratedAt *time.Time
	CreatedAt       time.Time
}

// SpikeEvent фиксирует статистический выброс вовлечённости.
type SpikeEvent struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	SourceID     uuid.UUID
	SpikeScore   float64
	Reason       string
	ContentHash  string
	ContentTitle string
	ContentURL   string
	DetectedAt   time.Time
	Processed    bool
}

// TrendEnrichment — дополнительный контекст по ключевому слову из новостного поиска.
type TrendEnrichment struct {
	TotalResults   int      `json:"total_results"`
	RecentArticles int      `json:"recent_articles"`
	TrendingTopics []string `json:"trending_topics,omitempty"`
}

// TrendRecord — оценка тренда ключевого слова за день.
type TrendRecord struct {
	Keyword    string
	Score      float64
	Region     string
	Date       time.Time
	Source     string
	Enrichment *TrendEnrichment
}

// Draft — черновик рассылки, переданный на уведомление.
type Draft struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	Topic      string
	Title      string
	Body       string
	EntryCount int
	CreatedAt  time.Time
}

// GenerationRecord хранит аналитику одной генерации.
type GenerationRecord struct {
	JobID           uuid.UUID
	DraftID         uuid.UUID
	GeneratedAt     time.Time
	TrendRelevance  *float64
	SpikeImpact     *float64
	SourcesUsed     int
	NewEntries      int
	TrendsDetected  int
	SpikesProcessed int
}

// ContentHash вычисляет ключ дедупликации записи. Длина заголовка входит в хешируемую строку,
// чтобы перенос строки в заголовке не склеивал разные пары.
func ContentHash(title, link string) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(len(title)) + ":" + title + link))
	return hex.EncodeToString(sum[:])[:32]
}
