package repo

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Migrate применяет встроенные миграции по порядку имён файлов.
func (p *Postgres) Migrate(ctx context.Context) error {
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("чтение миграций: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("чтение %s: %w", name, err)
		}
		start := time.Now()
		_, err = p.pool.Exec(ctx, string(body))
		metrics.ObserveNetworkRequest("postgres", "migrate", name, start, err)
		if err != nil {
			return fmt.Errorf("миграция %s: %w", name, err)
		}
	}
	return nil
}

// UpsertBundle реализует domain.SourceRepo.
func (p *Postgres) UpsertBundle(ctx context.Context, bundle domain.Bundle) (domain.Bundle, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if bundle.ID == uuid.Nil {
		bundle.ID = uuid.New()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO bundles (id, key, label) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET label = EXCLUDED.label
RETURNING id, key, label
`, bundle.ID, bundle.Key, bundle.Label).Scan(&bundle.ID, &bundle.Key, &bundle.Label)
	metrics.ObserveNetworkRequest("postgres", "bundles_upsert", "bundles", start, err)
	return bundle, err
}

// GetBundleByKey реализует domain.SourceRepo.
func (p *Postgres) GetBundleByKey(ctx context.Context, key string) (domain.Bundle, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var b domain.Bundle
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, key, label FROM bundles WHERE key = $1`, key).Scan(&b.ID, &b.Key, &b.Label)
	metrics.ObserveNetworkRequest("postgres", "bundles_get_by_key", "bundles", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bundle{}, domain.ErrNotFound
	}
	return b, err
}

const sourceColumns = `id, bundle_id, type, identifier, is_active, last_crawled_at`

func scanSource(row pgx.Row) (domain.Source, error) {
	var s domain.Source
	err := row.Scan(&s.ID, &s.BundleID, &s.Type, &s.Identifier, &s.IsActive, &s.LastCrawledAt)
	return s, err
}

// UpsertSource реализует domain.SourceRepo.
func (p *Postgres) UpsertSource(ctx context.Context, source domain.Source) (domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	start := time.Now()
	saved, err := scanSource(p.pool.QueryRow(ctx, `
INSERT INTO sources (id, bundle_id, type, identifier, is_active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (bundle_id, type, identifier) DO UPDATE SET is_active = EXCLUDED.is_active
RETURNING `+sourceColumns, source.ID, source.BundleID, source.Type, source.Identifier, source.IsActive))
	metrics.ObserveNetworkRequest("postgres", "sources_upsert", "sources", start, err)
	return saved, err
}

// ListActiveSources реализует domain.SourceRepo.
func (p *Postgres) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	return p.listSources(ctx, "sources_list_active", `SELECT `+sourceColumns+` FROM sources WHERE is_active ORDER BY type, identifier`)
}

// ListBundleSources реализует domain.SourceRepo.
func (p *Postgres) ListBundleSources(ctx context.Context, bundleID uuid.UUID) ([]domain.Source, error) {
	return p.listSources(ctx, "sources_list_bundle", `SELECT `+sourceColumns+` FROM sources WHERE is_active AND bundle_id = $1 ORDER BY type, identifier`, bundleID)
}

func (p *Postgres) listSources(ctx context.Context, op, query string, args ...any) ([]domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "sources", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkCrawled реализует domain.SourceRepo.
func (p *Postgres) MarkCrawled(ctx context.Context, sourceID uuid.UUID, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE sources SET last_crawled_at = $2 WHERE id = $1`, sourceID, at)
	metrics.ObserveNetworkRequest("postgres", "sources_mark_crawled", "sources", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// EntryExists реализует domain.EntryRepo.
func (p *Postgres) EntryExists(ctx context.Context, contentHash string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM content_entries WHERE content_hash = $1)`, contentHash).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "entries_exists", "content_entries", start, err)
	return exists, err
}

// InsertEntry реализует domain.EntryRepo.
func (p *Postgres) InsertEntry(ctx context.Context, entry domain.ContentEntry) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO content_entries (id, content_hash, title, link, summary, published_at, author, source_id, source_type, metadata, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (content_hash) DO NOTHING
`, entry.ID, entry.ContentHash, entry.Title, entry.Link, entry.Summary, entry.PublishedAt, entry.Author, entry.SourceID, entry.SourceType, meta, entry.FetchedAt)
	metrics.ObserveNetworkRequest("postgres", "entries_insert", "content_entries", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListEntries реализует domain.EntryRepo.
func (p *Postgres) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.ContentEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	q := p.psql.Select("e.id", "e.content_hash", "e.title", "e.link", "e.summary", "e.published_at", "e.author",
		"e.source_id", "e.source_type", "e.metadata", "e.fetched_at").
		From("content_entries e").
		OrderBy("e.published_at DESC", "e.content_hash")
	if filter.BundleID != uuid.Nil || len(filter.SourceIDs) > 0 {
		or := sq.Or{}
		if filter.BundleID != uuid.Nil {
			or = append(or, sq.Expr("e.source_id IN (SELECT id FROM sources WHERE bundle_id = ?)", filter.BundleID))
		}
		if len(filter.SourceIDs) > 0 {
			or = append(or, sq.Expr("e.source_id = ANY(?::uuid[])", uuidStrings(filter.SourceIDs)))
		}
		q = q.Where(or)
	}
	if !filter.Since.IsZero() {
		q = q.Where("e.published_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("построение запроса: %w", err)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "entries_list", "content_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContentEntry
	for rows.Next() {
		var (
			e    domain.ContentEntry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ContentHash, &e.Title, &e.Link, &e.Summary, &e.PublishedAt, &e.Author,
			&e.SourceID, &e.SourceType, &meta, &e.FetchedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", e.ContentHash, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntriesFetchedBefore реализует domain.EntryRepo.
func (p *Postgres) DeleteEntriesFetchedBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM content_entries WHERE fetched_at < $1`, before)
	metrics.ObserveNetworkRequest("postgres", "entries_delete_expired", "content_entries", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const jobColumns = `id, user_id, bundle_id, is_active, topic, schedule, email_recipients, last_generated_at, created_at`

func scanJob(row pgx.Row) (domain.AutoNewsletterJob, error) {
	var (
		j        domain.AutoNewsletterJob
		schedule []byte
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.BundleID, &j.IsActive, &j.Topic, &schedule, &j.EmailRecipients, &j.LastGeneratedAt, &j.CreatedAt); err != nil {
		return domain.AutoNewsletterJob{}, err
	}
	if err := json.Unmarshal(schedule, &j.Schedule); err != nil {
		return domain.AutoNewsletterJob{}, fmt.Errorf("задача %s: %w", j.ID, err)
	}
	return j, nil
}

// ListActiveJobs реализует domain.JobRepo. Задачи с повреждённым расписанием пропускаются с ошибкой в результате.
func (p *Postgres) ListActiveJobs(ctx context.Context) ([]domain.AutoNewsletterJob, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+jobColumns+` FROM auto_newsletter_jobs WHERE is_active ORDER BY created_at, id`)
	metrics.ObserveNetworkRequest("postgres", "jobs_list_active", "auto_newsletter_jobs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		out     []domain.AutoNewsletterJob
		decodes []error
	)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidSchedule) {
				decodes = append(decodes, err)
				continue
			}
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, errors.Join(decodes...)
}

// GetJob реализует domain.JobRepo.
func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (domain.AutoNewsletterJob, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	j, err := scanJob(p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM auto_newsletter_jobs WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "jobs_get", "auto_newsletter_jobs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AutoNewsletterJob{}, domain.ErrNotFound
	}
	return j, err
}

// CreateJob реализует domain.JobRepo.
func (p *Postgres) CreateJob(ctx context.Context, job domain.AutoNewsletterJob) (domain.AutoNewsletterJob, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	schedule, err := json.Marshal(job.Schedule)
	if err != nil {
		return domain.AutoNewsletterJob{}, err
	}
	recipients := job.EmailRecipients
	if recipients == nil {
		recipients = []string{}
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO auto_newsletter_jobs (id, user_id, bundle_id, is_active, topic, schedule, email_recipients, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, job.ID, job.UserID, job.BundleID, job.IsActive, job.Topic, schedule, recipients, job.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "jobs_create", "auto_newsletter_jobs", start, err)
	if err != nil {
		return domain.AutoNewsletterJob{}, err
	}
	return job, nil
}

// UpdateJob реализует domain.JobRepo.
func (p *Postgres) UpdateJob(ctx context.Context, job domain.AutoNewsletterJob) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	schedule, err := json.Marshal(job.Schedule)
	if err != nil {
		return err
	}
	recipients := job.EmailRecipients
	if recipients == nil {
		recipients = []string{}
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE auto_newsletter_jobs
SET bundle_id = $2, is_active = $3, topic = $4, schedule = $5, email_recipients = $6
WHERE id = $1
`, job.ID, job.BundleID, job.IsActive, job.Topic, schedule, recipients)
	metrics.ObserveNetworkRequest("postgres", "jobs_update", "auto_newsletter_jobs", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateLastGenerated реализует domain.JobRepo.
func (p *Postgres) UpdateLastGenerated(ctx context.Context, id uuid.UUID, at time.Time) error {
	return p.execJob(ctx, "jobs_update_last_generated", `UPDATE auto_newsletter_jobs SET last_generated_at = $2 WHERE id = $1`, id, at)
}

// SetActive реализует domain.JobRepo.
func (p *Postgres) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return p.execJob(ctx, "jobs_set_active", `UPDATE auto_newsletter_jobs SET is_active = $2 WHERE id = $1`, id, active)
}

func (p *Postgres) execJob(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "auto_newsletter_jobs", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AcquireFireSlot вставляет запись о слоте запуска и возвращает true, если удалось.
func (p *Postgres) AcquireFireSlot(ctx context.Context, jobID uuid.UUID, slot time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO fire_slots (job_id, slot)
VALUES ($1, $2)
ON CONFLICT (job_id, slot) DO NOTHING
`, jobID, slot.UTC())
	metrics.ObserveNetworkRequest("postgres", "fire_slots_acquire", "fire_slots", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseFireSlot удаляет запись о слоте.
func (p *Postgres) ReleaseFireSlot(ctx context.Context, jobID uuid.UUID, slot time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM fire_slots WHERE job_id = $1 AND slot = $2`, jobID, slot.UTC())
	metrics.ObserveNetworkRequest("postgres", "fire_slots_release", "fire_slots", start, err)
	return err
}

const spikeColumns = `id, job_id, source_id, spike_score, reason, content_hash, content_title, content_url, detected_at, processed`

// InsertSpike реализует domain.SpikeRepo.
func (p *Postgres) InsertSpike(ctx context.Context, e domain.SpikeEvent) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	detected := e.DetectedAt.UTC()
	day := time.Date(detected.Year(), detected.Month(), detected.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO spike_events (id, job_id, source_id, spike_score, reason, content_hash, content_title, content_url, detected_at, detected_day, processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (job_id, source_id, content_hash, detected_day) DO NOTHING
`, e.ID, e.JobID, e.SourceID, e.SpikeScore, e.Reason, e.ContentHash, e.ContentTitle, e.ContentURL, detected, day, e.Processed)
	metrics.ObserveNetworkRequest("postgres", "spikes_insert", "spike_events", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListOpenSpikes реализует domain.SpikeRepo.
func (p *Postgres) ListOpenSpikes(ctx context.Context, jobID uuid.UUID) ([]domain.SpikeEvent, error) {
	return p.listSpikes(ctx, "spikes_list_open", p.psql.Select(spikeColumns).From("spike_events").
		Where("job_id = ?", jobID).Where("NOT processed").OrderBy("spike_score DESC"))
}

// ListSpikesSince реализует domain.SpikeRepo.
func (p *Postgres) ListSpikesSince(ctx context.Context, jobID uuid.UUID, since time.Time) ([]domain.SpikeEvent, error) {
	return p.listSpikes(ctx, "spikes_list_since", p.psql.Select(spikeColumns).From("spike_events").
		Where("job_id = ?", jobID).Where("detected_at >= ?", since).OrderBy("detected_at"))
}

func (p *Postgres) listSpikes(ctx context.Context, op string, q sq.SelectBuilder) ([]domain.SpikeEvent, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("построение запроса: %w", err)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "spike_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SpikeEvent
	for rows.Next() {
		var e domain.SpikeEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.SourceID, &e.SpikeScore, &e.Reason, &e.ContentHash, &e.ContentTitle, &e.ContentURL, &e.DetectedAt, &e.Processed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSpikesProcessed реализует domain.SpikeRepo.
func (p *Postgres) MarkSpikesProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE spike_events SET processed = TRUE WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	metrics.ObserveNetworkRequest("postgres", "spikes_mark_processed", "spike_events", start, err)
	return err
}

// UpsertTrend реализует domain.TrendRepo.
func (p *Postgres) UpsertTrend(ctx context.Context, r domain.TrendRecord) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var enrichment []byte
	if r.Enrichment != nil {
		raw, err := json.Marshal(r.Enrichment)
		if err != nil {
			return err
		}
		enrichment = raw
	}
	date := r.Date.UTC()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO trend_records (keyword, region, date, score, source, enrichment)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (keyword, region, date) DO UPDATE
SET score = EXCLUDED.score, source = EXCLUDED.source, enrichment = EXCLUDED.enrichment, updated_at = now()
`, r.Keyword, r.Region, time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC), r.Score, r.Source, enrichment)
	metrics.ObserveNetworkRequest("postgres", "trends_upsert", "trend_records", start, err)
	return err
}

// ListTrendsSince реализует domain.TrendRepo.
func (p *Postgres) ListTrendsSince(ctx context.Context, since time.Time, limit int) ([]domain.TrendRecord, error) {
	q := p.psql.Select("keyword", "region", "date", "score", "source", "enrichment").
		From("trend_records").
		Where("updated_at >= ?", since).
		OrderBy("score DESC", "keyword")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("построение запроса: %w", err)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "trends_list_since", "trend_records", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TrendRecord
	for rows.Next() {
		var (
			r          domain.TrendRecord
			enrichment []byte
		)
		if err := rows.Scan(&r.Keyword, &r.Region, &r.Date, &r.Score, &r.Source, &enrichment); err != nil {
			return nil, err
		}
		if len(enrichment) > 0 {
			var e domain.TrendEnrichment
			if err := json.Unmarshal(enrichment, &e); err == nil {
				r.Enrichment = &e
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveDraft реализует domain.DraftRepo.
func (p *Postgres) SaveDraft(ctx context.Context, d domain.Draft) (domain.Draft, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO newsletter_drafts (id, job_id, topic, title, body, entry_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, d.ID, d.JobID, d.Topic, d.Title, d.Body, d.EntryCount, d.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "drafts_insert", "newsletter_drafts", start, err)
	if err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}

// GetDraft реализует domain.DraftRepo.
func (p *Postgres) GetDraft(ctx context.Context, id uuid.UUID) (domain.Draft, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var d domain.Draft
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, job_id, topic, title, body, entry_count, created_at FROM newsletter_drafts WHERE id = $1
`, id).Scan(&d.ID, &d.JobID, &d.Topic, &d.Title, &d.Body, &d.EntryCount, &d.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "drafts_get", "newsletter_drafts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Draft{}, domain.ErrNotFound
	}
	return d, err
}

// ListDrafts реализует domain.DraftRepo.
func (p *Postgres) ListDrafts(ctx context.Context, limit int) ([]domain.Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, job_id, topic, title, body, entry_count, created_at FROM newsletter_drafts
ORDER BY created_at DESC LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "drafts_list", "newsletter_drafts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Draft
	for rows.Next() {
		var d domain.Draft
		if err := rows.Scan(&d.ID, &d.JobID, &d.Topic, &d.Title, &d.Body, &d.EntryCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordGeneration реализует domain.GenerationRepo.
func (p *Postgres) RecordGeneration(ctx context.Context, r domain.GenerationRecord) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO generation_records (job_id, draft_id, generated_at, trend_relevance, spike_impact, sources_used, new_entries, trends_detected, spikes_processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, r.JobID, r.DraftID, r.GeneratedAt, r.TrendRelevance, r.SpikeImpact, r.SourcesUsed, r.NewEntries, r.TrendsDetected, r.SpikesProcessed)
	metrics.ObserveNetworkRequest("postgres", "generations_insert", "generation_records", start, err)
	return err
}

// ListGenerations реализует domain.GenerationRepo.
func (p *Postgres) ListGenerations(ctx context.Context, jobID uuid.UUID, since time.Time) ([]domain.GenerationRecord, error) {
	query, args, err := p.psql.Select("job_id", "draft_id", "generated_at", "trend_relevance", "spike_impact",
		"sources_used", "new_entries", "trends_detected", "spikes_processed").
		From("generation_records").
		Where("job_id = ?", jobID).
		Where("generated_at >= ?", since).
		OrderBy("generated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("построение запроса: %w", err)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "generations_list", "generation_records", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GenerationRecord
	for rows.Next() {
		var r domain.GenerationRecord
		if err := rows.Scan(&r.JobID, &r.DraftID, &r.GeneratedAt, &r.TrendRelevance, &r.SpikeImpact,
			&r.SourcesUsed, &r.NewEntries, &r.TrendsDetected, &r.SpikesProcessed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
