package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntryFilter ограничивает выборку записей.
type EntryFilter struct {
	BundleID  uuid.UUID
	SourceIDs []uuid.UUID
	Since     time.Time
	Limit     int
}

// SourceRepo управляет источниками и бандлами.
type SourceRepo interface {
	UpsertBundle(ctx context.Context, bundle Bundle) (Bundle, error)
	GetBundleByKey(ctx context.Context, key string) (Bundle, error)
	UpsertSource(ctx context.Context, source Source) (Source, error)
	ListActiveSources(ctx context.Context) ([]Source, error)
	ListBundleSources(ctx context.Context, bundleID uuid.UUID) ([]Source, error)
	MarkCrawled(ctx context.Context, sourceID uuid.UUID, at time.Time) error
}

// EntryRepo хранит нормализованные записи.
type EntryRepo interface {
	EntryExists(ctx context.Context, contentHash string) (bool, error)
	// InsertEntry сохраняет запись и возвращает false, если запись с таким хешем уже есть.
	InsertEntry(ctx context.Context, entry ContentEntry) (bool, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]ContentEntry, error)
	DeleteEntriesFetchedBefore(ctx context.Context, before time.Time) (int64, error)
}

// JobRepo управляет задачами автоматических рассылок.
type JobRepo interface {
	ListActiveJobs(ctx context.Context) ([]AutoNewsletterJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (AutoNewsletterJob, error)
	CreateJob(ctx context.Context, job AutoNewsletterJob) (AutoNewsletterJob, error)
	UpdateJob(ctx context.Context, job AutoNewsletterJob) error
	UpdateLastGenerated(ctx context.Context, id uuid.UUID, at time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// AcquireFireSlot помечает слот запуска задачи и возвращает true, если слот был свободен.
	// При конфликте возвращает false без ошибки.
	AcquireFireSlot(ctx context.Context, jobID uuid.UUID, slot time.Time) (bool, error)
	// ReleaseFireSlot освобождает слот после неудачного запуска, чтобы следующий тик повторил попытку.
	ReleaseFireSlot(ctx context.Context, jobID uuid.UUID, slot time.Time) error
}

// SpikeRepo хранит события всплесков.
type SpikeRepo interface {
	// InsertSpike возвращает false, если событие с тем же естественным ключом уже записано.
	InsertSpike(ctx context.Context, event SpikeEvent) (bool, error)
	ListOpenSpikes(ctx context.Context, jobID uuid.UUID) ([]SpikeEvent, error)
	ListSpikesSince(ctx context.Context, jobID uuid.UUID, since time.Time) ([]SpikeEvent, error)
	MarkSpikesProcessed(ctx context.Context, ids []uuid.UUID) error
}

// TrendRepo хранит оценки трендов.
type TrendRepo interface {
	UpsertTrend(ctx context.Context, record TrendRecord) error
	// ListTrendsSince возвращает записи не старше since, отсортированные по убыванию оценки.
	ListTrendsSince(ctx context.Context, since time.Time, limit int) ([]TrendRecord, error)
}

// DraftRepo сохраняет черновики рассылок.
type DraftRepo interface {
	SaveDraft(ctx context.Context, draft Draft) (Draft, error)
	GetDraft(ctx context.Context, id uuid.UUID) (Draft, error)
	ListDrafts(ctx context.Context, limit int) ([]Draft, error)
}

// GenerationRepo сохраняет аналитику генераций.
type GenerationRepo interface {
	RecordGeneration(ctx context.Context, record GenerationRecord) error
	ListGenerations(ctx context.Context, jobID uuid.UUID, since time.Time) ([]GenerationRecord, error)
}

// Store объединяет все хранилища.
type Store interface {
	SourceRepo
	EntryRepo
	JobRepo
	SpikeRepo
	TrendRepo
	DraftRepo
	GenerationRepo
}

// Fetcher выгружает записи одного источника. Ошибки не возвращаются: недоступный источник даёт пустой результат.
type Fetcher interface {
	Fetch(ctx context.Context, source Source) []ContentEntry
}

// TrendProvider возвращает оценку популярности ключевого слова.
type TrendProvider interface {
	TrendScore(ctx context.Context, keyword, region string) (float64, error)
}

// TrendEnricher дополняет тренд контекстом из новостного поиска.
type TrendEnricher interface {
	Enrich(ctx context.Context, keyword string) (TrendEnrichment, error)
}

// GenerationRequest — входные данные генерации черновика.
type GenerationRequest struct {
	Job     AutoNewsletterJob
	Entries []ScoredEntry
	Spikes  []SpikeEvent
	Trends  []TrendRecord
}

// Generator строит черновик рассылки.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (Draft, error)
}

// Notifier сообщает получателям о готовом черновике.
type Notifier interface {
	Notify(ctx context.Context, job AutoNewsletterJob, draft Draft) error
}

// JobLease — эксклюзивная блокировка задачи между экземплярами планировщика.
type JobLease interface {
	// Acquire возвращает функцию освобождения и false, если блокировка уже занята.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
