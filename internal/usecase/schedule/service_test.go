package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/adapters/repo"
	"creatorpulse/internal/domain"
)

func TestNormalizeTimezone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Europe/Moscow", want: "Europe/Moscow"},
		{in: "america/new york", want: "America/New_York"},
		{in: " europe/berlin ", want: "Europe/Berlin"},
		{in: "utc", want: "UTC"},
	}
	for _, tt := range tests {
		got, err := normalizeTimezone(tt.in)
		if err != nil {
			t.Fatalf("%q: не ожидали ошибку: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: ожидали %q, получили %q", tt.in, tt.want, got)
		}
	}
	for _, bad := range []string{"", "Mars/Base", "Local", " local "} {
		if _, err := normalizeTimezone(bad); !errors.Is(err, domain.ErrInvalidTimezone) {
			t.Fatalf("%q: ожидали ErrInvalidTimezone, получили %v", bad, err)
		}
	}
}

func newService(t *testing.T) (*Service, *repo.Memory, uuid.UUID) {
	t.Helper()
	store := repo.NewMemory()
	bundle, err := store.UpsertBundle(context.Background(), domain.Bundle{Key: "tech"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return NewService(store, store), store, bundle.ID
}

func TestCreateJobNormalizesAndActivates(t *testing.T) {
	svc, store, bundleID := newService(t)
	job, err := svc.CreateJob(context.Background(), domain.AutoNewsletterJob{
		BundleID: bundleID,
		Topic:    "golang",
		Schedule: domain.ScheduleConfig{
			Timezone: "america/new york",
			Schedule: domain.TrendBasedSchedule{Keywords: []string{"go", " Go ", "rust"}, Threshold: 5},
		},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !stored.IsActive || stored.Schedule.Timezone != "America/New_York" {
		t.Fatalf("неожиданная задача: %+v", stored)
	}
	trend := stored.Schedule.Schedule.(domain.TrendBasedSchedule)
	if len(trend.Keywords) != 2 {
		t.Fatalf("ожидали 2 ключевых слова без повторов, получили %v", trend.Keywords)
	}
}

func TestCreateJobRejectsInvalidConfig(t *testing.T) {
	svc, store, bundleID := newService(t)
	ctx := context.Background()
	_, err := svc.CreateJob(ctx, domain.AutoNewsletterJob{BundleID: bundleID, Schedule: domain.ScheduleConfig{
		Timezone: "UTC",
		Schedule: domain.BusinessHoursSchedule{StartHour: 17, EndHour: 9, DaysOfWeek: []int{1}},
	}})
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("ожидали ErrInvalidSchedule, получили %v", err)
	}
	_, err = svc.CreateJob(ctx, domain.AutoNewsletterJob{BundleID: bundleID, Schedule: domain.ScheduleConfig{
		Timezone: "Nowhere/City",
		Schedule: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"},
	}})
	if !errors.Is(err, domain.ErrInvalidTimezone) {
		t.Fatalf("ожидали ErrInvalidTimezone, получили %v", err)
	}
	jobs, _ := store.ListActiveJobs(ctx)
	if len(jobs) != 0 {
		t.Fatalf("некорректные задачи не должны сохраняться, получили %d", len(jobs))
	}
}

func TestApplyUpdatesExistingJob(t *testing.T) {
	svc, store, bundleID := newService(t)
	ctx := context.Background()
	daily := domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}}
	job, err := svc.Apply(ctx, domain.AutoNewsletterJob{BundleID: bundleID, Topic: "go", Schedule: daily})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.SetActive(ctx, job.ID, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	job.Topic = "rust"
	job.Schedule = domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.CronSchedule{Expression: "0 9 * * 1-5"}}
	if _, err := svc.Apply(ctx, job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	stored, _ := store.GetJob(ctx, job.ID)
	if stored.Topic != "rust" || !stored.IsActive || stored.Schedule.Schedule.Kind() != domain.ScheduleCron {
		t.Fatalf("неожиданная задача после обновления: %+v", stored)
	}

	err = svc.UpdateSchedule(ctx, job.ID, domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.CronSchedule{Expression: "bad"}})
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("ожидали ErrInvalidSchedule, получили %v", err)
	}
}

func TestAnalytics(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	jobID := uuid.New()
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	for _, h := range []int{48, 24, 0} {
		if err := store.RecordGeneration(ctx, domain.GenerationRecord{JobID: jobID, GeneratedAt: now.Add(-time.Duration(h) * time.Hour)}); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	got, err := svc.Analytics(ctx, jobID, 30, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.TotalGenerations != 3 || got.AvgIntervalHours != 24 || got.LastGeneratedAt == nil || !got.LastGeneratedAt.Equal(now) {
		t.Fatalf("неожиданная аналитика: %+v", got)
	}
}
