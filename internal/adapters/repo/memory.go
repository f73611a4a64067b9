package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
)

// Memory реализует domain.Store в памяти процесса. Подходит для локального запуска и тестов.
type Memory struct {
	mu sync.RWMutex

	bundles     map[uuid.UUID]domain.Bundle
	sources     map[uuid.UUID]domain.Source
	entries     map[string]domain.ContentEntry
	jobs        map[uuid.UUID]domain.AutoNewsletterJob
	fireSlots   map[string]struct{}
	spikes      []domain.SpikeEvent
	spikeKeys   map[string]struct{}
	trends      map[string]domain.TrendRecord
	drafts      map[uuid.UUID]domain.Draft
	generations []domain.GenerationRecord

	now func() time.Time
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		bundles:   make(map[uuid.UUID]domain.Bundle),
		sources:   make(map[uuid.UUID]domain.Source),
		entries:   make(map[string]domain.ContentEntry),
		jobs:      make(map[uuid.UUID]domain.AutoNewsletterJob),
		fireSlots: make(map[string]struct{}),
		spikeKeys: make(map[string]struct{}),
		trends:    make(map[string]domain.TrendRecord),
		drafts:    make(map[uuid.UUID]domain.Draft),
		now:       time.Now,
	}
}

// UpsertBundle создаёт бандл или обновляет подпись существующего с тем же ключом.
func (m *Memory) UpsertBundle(_ context.Context, bundle domain.Bundle) (domain.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.bundles {
		if existing.Key == bundle.Key {
			existing.Label = bundle.Label
			m.bundles[id] = existing
			return existing, nil
		}
	}
	if bundle.ID == uuid.Nil {
		bundle.ID = uuid.New()
	}
	m.bundles[bundle.ID] = bundle
	return bundle, nil
}

// GetBundleByKey возвращает бандл по ключу.
func (m *Memory) GetBundleByKey(_ context.Context, key string) (domain.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bundles {
		if b.Key == key {
			return b, nil
		}
	}
	return domain.Bundle{}, domain.ErrNotFound
}

// UpsertSource создаёт источник или обновляет существующий с тем же типом и идентификатором в бандле.
func (m *Memory) UpsertSource(_ context.Context, source domain.Source) (domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.sources {
		if existing.BundleID == source.BundleID && existing.Type == source.Type && existing.Identifier == source.Identifier {
			existing.IsActive = source.IsActive
			m.sources[id] = existing
			return existing, nil
		}
	}
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	m.sources[source.ID] = source
	return source, nil
}

// ListActiveSources возвращает активные источники.
func (m *Memory) ListActiveSources(_ context.Context) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Source
	for _, s := range m.sources {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sortSources(out)
	return out, nil
}

// ListBundleSources возвращает активные источники бандла.
func (m *Memory) ListBundleSources(_ context.Context, bundleID uuid.UUID) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Source
	for _, s := range m.sources {
		if s.BundleID == bundleID && s.IsActive {
			out = append(out, s)
		}
	}
	sortSources(out)
	return out, nil
}

// MarkCrawled обновляет время последнего обхода.
func (m *Memory) MarkCrawled(_ context.Context, sourceID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return domain.ErrNotFound
	}
	ts := at
	s.LastCrawledAt = &ts
	m.sources[sourceID] = s
	return nil
}

// EntryExists проверяет наличие записи по хешу.
func (m *Memory) EntryExists(_ context.Context, contentHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[contentHash]
	return ok, nil
}

// InsertEntry сохраняет запись, если хеш ещё не встречался.
func (m *Memory) InsertEntry(_ context.Context, entry domain.ContentEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ContentHash == "" {
		return false, fmt.Errorf("пустой content_hash")
	}
	if _, ok := m.entries[entry.ContentHash]; ok {
		return false, nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.entries[entry.ContentHash] = entry
	return true, nil
}

// ListEntries возвращает записи по фильтру, новые первыми.
func (m *Memory) ListEntries(_ context.Context, filter domain.EntryFilter) ([]domain.ContentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var allowed map[uuid.UUID]struct{}
	if filter.BundleID != uuid.Nil || len(filter.SourceIDs) > 0 {
		allowed = make(map[uuid.UUID]struct{})
		for _, id := range filter.SourceIDs {
			allowed[id] = struct{}{}
		}
		if filter.BundleID != uuid.Nil {
			for _, s := range m.sources {
				if s.BundleID == filter.BundleID {
					allowed[s.ID] = struct{}{}
				}
			}
		}
	}
	var out []domain.ContentEntry
	for _, e := range m.entries {
		if allowed != nil {
			if _, ok := allowed[e.SourceID]; !ok {
				continue
			}
		}
		if !filter.Since.IsZero() && e.PublishedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteEntriesFetchedBefore удаляет записи, выгруженные раньше before.
func (m *Memory) DeleteEntriesFetchedBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, e := range m.entries {
		if e.FetchedAt.Before(before) {
			delete(m.entries, hash)
			n++
		}
	}
	return n, nil
}

// ListActiveJobs возвращает активные задачи в порядке создания.
func (m *Memory) ListActiveJobs(_ context.Context) ([]domain.AutoNewsletterJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AutoNewsletterJob
	for _, j := range m.jobs {
		if j.IsActive {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetJob возвращает задачу.
func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (domain.AutoNewsletterJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.AutoNewsletterJob{}, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

// CreateJob сохраняет новую задачу.
func (m *Memory) CreateJob(_ context.Context, job domain.AutoNewsletterJob) (domain.AutoNewsletterJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now().UTC()
	}
	m.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

// UpdateJob заменяет изменяемые поля задачи.
func (m *Memory) UpdateJob(_ context.Context, job domain.AutoNewsletterJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	job.CreatedAt = existing.CreatedAt
	job.LastGeneratedAt = existing.LastGeneratedAt
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateLastGenerated фиксирует время последней генерации.
func (m *Memory) UpdateLastGenerated(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	ts := at
	j.LastGeneratedAt = &ts
	m.jobs[id] = j
	return nil
}

// SetActive включает или выключает задачу.
func (m *Memory) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.IsActive = active
	m.jobs[id] = j
	return nil
}

// AcquireFireSlot помечает слот запуска.
func (m *Memory) AcquireFireSlot(_ context.Context, jobID uuid.UUID, slot time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobID.String() + "|" + slot.UTC().Format(time.RFC3339Nano)
	if _, ok := m.fireSlots[key]; ok {
		return false, nil
	}
	m.fireSlots[key] = struct{}{}
	return true, nil
}

// ReleaseFireSlot снимает отметку слота.
func (m *Memory) ReleaseFireSlot(_ context.Context, jobID uuid.UUID, slot time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fireSlots, jobID.String()+"|"+slot.UTC().Format(time.RFC3339Nano))
	return nil
}

// InsertSpike сохраняет событие, если его естественный ключ ещё не встречался.
func (m *Memory) InsertSpike(_ context.Context, event domain.SpikeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := spikeKey(event)
	if _, ok := m.spikeKeys[key]; ok {
		return false, nil
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	m.spikeKeys[key] = struct{}{}
	m.spikes = append(m.spikes, event)
	return true, nil
}

// ListOpenSpikes возвращает необработанные события задачи, сильные первыми.
func (m *Memory) ListOpenSpikes(_ context.Context, jobID uuid.UUID) ([]domain.SpikeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SpikeEvent
	for _, s := range m.spikes {
		if s.JobID == jobID && !s.Processed {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SpikeScore > out[j].SpikeScore })
	return out, nil
}

// ListSpikesSince возвращает события задачи начиная с since в порядке обнаружения.
func (m *Memory) ListSpikesSince(_ context.Context, jobID uuid.UUID, since time.Time) ([]domain.SpikeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SpikeEvent
	for _, s := range m.spikes {
		if s.JobID == jobID && !s.DetectedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

// MarkSpikesProcessed помечает события обработанными.
func (m *Memory) MarkSpikesProcessed(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range m.spikes {
		if _, ok := set[m.spikes[i].ID]; ok {
			m.spikes[i].Processed = true
		}
	}
	return nil
}

// UpsertTrend сохраняет оценку тренда за день.
func (m *Memory) UpsertTrend(_ context.Context, record domain.TrendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trends[trendKey(record)] = record
	return nil
}

// ListTrendsSince возвращает тренды не старше since по убыванию оценки.
func (m *Memory) ListTrendsSince(_ context.Context, since time.Time, limit int) ([]domain.TrendRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TrendRecord
	for _, t := range m.trends {
		if !t.Date.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Keyword < out[j].Keyword
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveDraft сохраняет черновик.
func (m *Memory) SaveDraft(_ context.Context, draft domain.Draft) (domain.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = m.now().UTC()
	}
	m.drafts[draft.ID] = draft
	return draft, nil
}

// GetDraft возвращает черновик.
func (m *Memory) GetDraft(_ context.Context, id uuid.UUID) (domain.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return domain.Draft{}, domain.ErrNotFound
	}
	return d, nil
}

// ListDrafts возвращает последние черновики, новые первыми.
func (m *Memory) ListDrafts(_ context.Context, limit int) ([]domain.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordGeneration сохраняет аналитику генерации.
func (m *Memory) RecordGeneration(_ context.Context, record domain.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations = append(m.generations, record)
	return nil
}

// ListGenerations возвращает аналитику задачи начиная с since.
func (m *Memory) ListGenerations(_ context.Context, jobID uuid.UUID, since time.Time) ([]domain.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.GenerationRecord
	for _, g := range m.generations {
		if g.JobID == jobID && !g.GeneratedAt.Before(since) {
			out = append(out, g)
		}
	}
	return out, nil
}

func spikeKey(e domain.SpikeEvent) string {
	return strings.Join([]string{e.JobID.String(), e.SourceID.String(), e.ContentHash, e.DetectedAt.UTC().Format("2006-01-02")}, "|")
}

func trendKey(r domain.TrendRecord) string {
	return strings.ToLower(r.Keyword) + "|" + r.Region + "|" + r.Date.UTC().Format("2006-01-02")
}

func sortSources(sources []domain.Source) {
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Type != sources[j].Type {
			return sources[i].Type < sources[j].Type
		}
		return sources[i].Identifier < sources[j].Identifier
	})
}

func cloneJob(j domain.AutoNewsletterJob) domain.AutoNewsletterJob {
	j.EmailRecipients = append([]string(nil), j.EmailRecipients...)
	if j.LastGeneratedAt != nil {
		ts := *j.LastGeneratedAt
		j.LastGeneratedAt = &ts
	}
	return j
}

var _ domain.Store = (*Memory)(nil)
