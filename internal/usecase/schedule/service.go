package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
)

// Service управляет настройками задач рассылок.
type Service struct {
	jobs        domain.JobRepo
	generations domain.GenerationRepo
}

// NewService создаёт сервис.
func NewService(jobs domain.JobRepo, generations domain.GenerationRepo) *Service {
	return &Service{jobs: jobs, generations: generations}
}

// CreateJob проверяет расписание и сохраняет новую активную задачу.
func (s *Service) CreateJob(ctx context.Context, job domain.AutoNewsletterJob) (domain.AutoNewsletterJob, error) {
	cfg, err := NormalizeConfig(job.Schedule)
	if err != nil {
		return domain.AutoNewsletterJob{}, err
	}
	if job.BundleID == uuid.Nil {
		return domain.AutoNewsletterJob{}, errors.New("не указан бандл источников")
	}
	job.Schedule = cfg
	job.IsActive = true
	job.LastGeneratedAt = nil
	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return domain.AutoNewsletterJob{}, fmt.Errorf("создание задачи: %w", err)
	}
	return created, nil
}

// Apply создаёт задачу или обновляет существующую с тем же идентификатором.
func (s *Service) Apply(ctx context.Context, job domain.AutoNewsletterJob) (domain.AutoNewsletterJob, error) {
	if job.ID == uuid.Nil {
		return s.CreateJob(ctx, job)
	}
	existing, err := s.jobs.GetJob(ctx, job.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.CreateJob(ctx, job)
	}
	if err != nil {
		return domain.AutoNewsletterJob{}, fmt.Errorf("получение задачи: %w", err)
	}
	cfg, err := NormalizeConfig(job.Schedule)
	if err != nil {
		return domain.AutoNewsletterJob{}, err
	}
	existing.Topic = job.Topic
	existing.BundleID = job.BundleID
	existing.EmailRecipients = job.EmailRecipients
	existing.Schedule = cfg
	existing.IsActive = true
	if err := s.jobs.UpdateJob(ctx, existing); err != nil {
		return domain.AutoNewsletterJob{}, fmt.Errorf("обновление задачи: %w", err)
	}
	return existing, nil
}

// UpdateSchedule заменяет расписание задачи.
func (s *Service) UpdateSchedule(ctx context.Context, jobID uuid.UUID, cfg domain.ScheduleConfig) error {
	normalized, err := NormalizeConfig(cfg)
	if err != nil {
		return err
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("получение задачи: %w", err)
	}
	job.Schedule = normalized
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("обновление расписания: %w", err)
	}
	return nil
}

// SetActive включает или выключает задачу. Перед включением расписание проверяется повторно.
func (s *Service) SetActive(ctx context.Context, jobID uuid.UUID, active bool) error {
	if active {
		job, err := s.jobs.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("получение задачи: %w", err)
		}
		if _, err := NormalizeConfig(job.Schedule); err != nil {
			return err
		}
	}
	if err := s.jobs.SetActive(ctx, jobID, active); err != nil {
		return fmt.Errorf("изменение активности: %w", err)
	}
	return nil
}

// Analytics — сводка генераций задачи.
type Analytics struct {
	TotalGenerations int        `json:"total_generations"`
	AvgIntervalHours float64    `json:"avg_generation_interval"`
	LastGeneratedAt  *time.Time `json:"last_generated_at,omitempty"`
}

// Analytics считает число генераций и средний интервал между ними за days дней.
func (s *Service) Analytics(ctx context.Context, jobID uuid.UUID, days int, now time.Time) (Analytics, error) {
	if days <= 0 {
		days = 30
	}
	records, err := s.generations.ListGenerations(ctx, jobID, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return Analytics{}, fmt.Errorf("аналитика генераций: %w", err)
	}
	out := Analytics{TotalGenerations: len(records)}
	if len(records) == 0 {
		return out, nil
	}
	last := records[len(records)-1].GeneratedAt
	out.LastGeneratedAt = &last
	if len(records) > 1 {
		span := records[len(records)-1].GeneratedAt.Sub(records[0].GeneratedAt).Hours()
		out.AvgIntervalHours = math.Round(span/float64(len(records)-1)*100) / 100
	}
	return out, nil
}

// NormalizeConfig приводит часовой пояс к каноническому виду и проверяет вариант расписания.
func NormalizeConfig(cfg domain.ScheduleConfig) (domain.ScheduleConfig, error) {
	tz, err := normalizeTimezone(cfg.Timezone)
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	cfg.Timezone = tz
	if trend, ok := cfg.Schedule.(domain.TrendBasedSchedule); ok {
		trend.Keywords = trend.CleanKeywords()
		cfg.Schedule = trend
	}
	if err := cfg.Validate(); err != nil {
		return domain.ScheduleConfig{}, err
	}
	return cfg, nil
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", fmt.Errorf("%w: пустое значение", domain.ErrInvalidTimezone)
	}
	if strings.EqualFold(candidate, "local") {
		return "", fmt.Errorf("%w: %q не является именем IANA", domain.ErrInvalidTimezone, raw)
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	if upper := strings.ToUpper(candidate); upper != candidate {
		if _, err := time.LoadLocation(upper); err == nil {
			return upper, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, raw)
}
