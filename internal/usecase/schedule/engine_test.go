package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"creatorpulse/internal/domain"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

// 2024-03-11 — понедельник.
var monday0800 = utc(2024, 3, 11, 8, 0)

func TestNextFireTime(t *testing.T) {
	tests := []struct {
		name  string
		tz    string
		sched domain.Schedule
		after time.Time
		want  time.Time
	}{
		{name: "daily сегодня", sched: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}, after: monday0800, want: utc(2024, 3, 11, 9, 0)},
		{name: "daily строго после", sched: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "08:00"}, after: monday0800, want: utc(2024, 3, 12, 8, 0)},
		{name: "weekly в ту же неделю", sched: domain.StandardSchedule{Frequency: domain.FrequencyWeekly, Time: "09:00", Day: 3}, after: monday0800, want: utc(2024, 3, 13, 9, 0)},
		{name: "weekly через неделю", sched: domain.StandardSchedule{Frequency: domain.FrequencyWeekly, Time: "08:00", Day: 1}, after: monday0800, want: utc(2024, 3, 18, 8, 0)},
		{name: "weekly воскресенье", sched: domain.StandardSchedule{Frequency: domain.FrequencyWeekly, Time: "10:00", Day: 7}, after: monday0800, want: utc(2024, 3, 17, 10, 0)},
		{name: "monthly конец февраля", sched: domain.StandardSchedule{Frequency: domain.FrequencyMonthly, Time: "09:00", Day: 31}, after: utc(2024, 2, 10, 0, 0), want: utc(2024, 2, 29, 9, 0)},
		{name: "monthly следующий месяц", sched: domain.StandardSchedule{Frequency: domain.FrequencyMonthly, Time: "09:00", Day: 31}, after: utc(2024, 4, 30, 10, 0), want: utc(2024, 5, 31, 9, 0)},
		{name: "monthly через год", sched: domain.StandardSchedule{Frequency: domain.FrequencyMonthly, Time: "09:00", Day: 15}, after: utc(2024, 12, 20, 0, 0), want: utc(2025, 1, 15, 9, 0)},
		{name: "daily в часовом поясе", tz: "America/New_York", sched: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}, after: utc(2024, 3, 11, 12, 0), want: utc(2024, 3, 11, 13, 0)},
		{name: "interval в течение дня", sched: domain.IntervalSchedule{IntervalHours: 6, StartTime: "08:00"}, after: utc(2024, 3, 11, 10, 0), want: utc(2024, 3, 11, 14, 0)},
		{name: "interval до начала серии", sched: domain.IntervalSchedule{IntervalHours: 6, StartTime: "08:00"}, after: utc(2024, 3, 11, 7, 0), want: utc(2024, 3, 11, 8, 0)},
		{name: "interval серия начинается заново", sched: domain.IntervalSchedule{IntervalHours: 5, StartTime: "09:00"}, after: utc(2024, 3, 11, 19, 30), want: utc(2024, 3, 12, 9, 0)},
		{name: "interval от момента", sched: domain.IntervalSchedule{IntervalHours: 5, StartTime: "2024-03-10T00:00:00Z"}, after: monday0800, want: utc(2024, 3, 11, 11, 0)},
		{name: "interval от давнего момента", sched: domain.IntervalSchedule{IntervalHours: 24, StartTime: "1700-01-01T00:00:00Z"}, after: monday0800, want: utc(2024, 3, 12, 0, 0)},
		{name: "interval в год", sched: domain.IntervalSchedule{IntervalHours: domain.MaxIntervalHours, StartTime: "2024-01-01T00:00:00Z"}, after: monday0800, want: utc(2024, 12, 31, 0, 0)},
		{name: "interval момент в будущем", sched: domain.IntervalSchedule{IntervalHours: 5, StartTime: "2024-04-01T00:00:00Z"}, after: monday0800, want: utc(2024, 4, 1, 0, 0)},
		{name: "business hours сегодня", sched: domain.BusinessHoursSchedule{StartHour: 9, EndHour: 17, DaysOfWeek: []int{1, 2, 3, 4, 5}}, after: monday0800, want: utc(2024, 3, 11, 9, 0)},
		{name: "business hours завтра", sched: domain.BusinessHoursSchedule{StartHour: 9, EndHour: 17, DaysOfWeek: []int{1, 2, 3, 4, 5}}, after: utc(2024, 3, 11, 10, 0), want: utc(2024, 3, 12, 9, 0)},
		{name: "business hours после выходных", sched: domain.BusinessHoursSchedule{StartHour: 9, EndHour: 17, DaysOfWeek: []int{1, 2, 3, 4, 5}}, after: utc(2024, 3, 15, 10, 0), want: utc(2024, 3, 18, 9, 0)},
		{name: "cron в часовом поясе", tz: "Europe/Berlin", sched: domain.CronSchedule{Expression: "30 7 * * 1"}, after: monday0800, want: utc(2024, 3, 18, 6, 30)},
		{name: "cron дескриптор", sched: domain.CronSchedule{Expression: "@daily"}, after: monday0800, want: utc(2024, 3, 12, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tz := tt.tz
			if tz == "" {
				tz = "UTC"
			}
			got, ok, err := NextFireTime(domain.ScheduleConfig{Timezone: tz, Schedule: tt.sched}, tt.after)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !ok {
				t.Fatalf("ожидали время запуска")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("ожидали %s, получили %s", tt.want, got.UTC())
			}
			if !got.After(tt.after) {
				t.Fatalf("запуск должен быть строго после %s", tt.after)
			}
		})
	}
}

func TestNextFireTimeGatedAndInvalid(t *testing.T) {
	for _, sched := range []domain.Schedule{
		domain.ContentBasedSchedule{SpikeThreshold: 2, MaxFrequencyHours: 6},
		domain.TrendBasedSchedule{Keywords: []string{"go"}, Threshold: 5},
	} {
		_, ok, err := NextFireTime(domain.ScheduleConfig{Timezone: "UTC", Schedule: sched}, monday0800)
		if err != nil || ok {
			t.Fatalf("%s: у расписания по сигналу нет времени запуска: ok=%v err=%v", sched.Kind(), ok, err)
		}
	}

	_, _, err := NextFireTime(domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.CronSchedule{Expression: "CRON_TZ=UTC 0 9 * * *"}}, monday0800)
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("ожидали ErrInvalidSchedule, получили %v", err)
	}
	_, _, err = NextFireTime(domain.ScheduleConfig{Timezone: "Mars/Base", Schedule: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}}, monday0800)
	if !errors.Is(err, domain.ErrInvalidTimezone) {
		t.Fatalf("ожидали ErrInvalidTimezone, получили %v", err)
	}
}

func TestPreview(t *testing.T) {
	cfg := domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}}
	got, err := Preview(cfg, monday0800, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []time.Time{utc(2024, 3, 11, 9, 0), utc(2024, 3, 12, 9, 0), utc(2024, 3, 13, 9, 0)}
	if len(got) != len(want) {
		t.Fatalf("ожидали %d запусков, получили %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("запуск %d: ожидали %s, получили %s", i, want[i], got[i])
		}
	}

	gated := domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.ContentBasedSchedule{SpikeThreshold: 2}}
	if got, err := Preview(gated, monday0800, 3); err != nil || len(got) != 0 {
		t.Fatalf("для расписания по сигналу запусков нет: %v, %v", got, err)
	}
}

type stubGate struct {
	content bool
	trend   bool
	err     error
	calls   int
}

func (g *stubGate) ContentSignal(context.Context, domain.AutoNewsletterJob, domain.ContentBasedSchedule) (bool, string, error) {
	g.calls++
	return g.content, "всплески", g.err
}

func (g *stubGate) TrendSignal(context.Context, domain.AutoNewsletterJob, domain.TrendBasedSchedule) (bool, string, error) {
	g.calls++
	return g.trend, "тренды", g.err
}

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluateTimeBased(t *testing.T) {
	engine := NewEngine(nil)
	job := domain.AutoNewsletterJob{
		CreatedAt: utc(2024, 3, 10, 12, 0),
		Schedule:  domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}},
	}
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, job, utc(2024, 3, 11, 8, 59))
	if err != nil || d.Due() {
		t.Fatalf("до слота задача не должна запускаться: %+v, %v", d, err)
	}
	d, err = engine.Evaluate(ctx, job, utc(2024, 3, 11, 9, 0).Add(30*time.Second))
	if err != nil || !d.Due() || !d.Slot.Equal(utc(2024, 3, 11, 9, 0)) {
		t.Fatalf("ожидали запуск в слот 09:00: %+v, %v", d, err)
	}

	job.LastGeneratedAt = timePtr(utc(2024, 3, 11, 9, 1))
	d, err = engine.Evaluate(ctx, job, utc(2024, 3, 11, 10, 0))
	if err != nil || d.Due() || d.State != domain.JobPending {
		t.Fatalf("после генерации задача ждёт следующего слота: %+v, %v", d, err)
	}
}

func TestEvaluateIntervalFromDistantStart(t *testing.T) {
	job := domain.AutoNewsletterJob{
		CreatedAt:       utc(2024, 3, 1, 0, 0),
		LastGeneratedAt: timePtr(utc(2024, 3, 11, 0, 1)),
		Schedule:        domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.IntervalSchedule{IntervalHours: 24, StartTime: "1700-01-01T00:00:00Z"}},
	}
	d, err := NewEngine(nil).Evaluate(context.Background(), job, utc(2024, 3, 11, 0, 2))
	if err != nil || d.Due() {
		t.Fatalf("сразу после генерации задача ждёт следующего слота: %+v, %v", d, err)
	}
}

func TestEvaluateContentGate(t *testing.T) {
	now := monday0800
	gate := &stubGate{content: true}
	engine := NewEngine(gate)
	job := domain.AutoNewsletterJob{
		Schedule:        domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.ContentBasedSchedule{SpikeThreshold: 2, MaxFrequencyHours: 4}},
		LastGeneratedAt: timePtr(now.Add(-time.Hour)),
	}

	d, err := engine.Evaluate(context.Background(), job, now)
	if err != nil || d.Due() || gate.calls != 0 {
		t.Fatalf("задача в пределах ограничения частоты не проверяет сигналы: %+v, вызовов %d", d, gate.calls)
	}
	job.LastGeneratedAt = timePtr(now.Add(-5 * time.Hour))
	if d, _ = engine.Evaluate(context.Background(), job, now); !d.Due() {
		t.Fatalf("ожидали запуск по всплеску: %+v", d)
	}
	gate.content = false
	if d, _ = engine.Evaluate(context.Background(), job, now); d.Due() {
		t.Fatalf("без всплесков запуска нет: %+v", d)
	}
	gate.err = errors.New("store down")
	if _, err := engine.Evaluate(context.Background(), job, now); err == nil {
		t.Fatalf("ожидали ошибку шлюза")
	}
}

func TestEvaluateTrendGate(t *testing.T) {
	now := monday0800
	gate := &stubGate{trend: true}
	job := domain.AutoNewsletterJob{
		Schedule:        domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.TrendBasedSchedule{Keywords: []string{"go"}, Threshold: 5}},
		LastGeneratedAt: timePtr(now.Add(-10 * time.Hour)),
	}
	if d, _ := NewEngine(gate).Evaluate(context.Background(), job, now); d.Due() {
		t.Fatalf("по умолчанию между трендовыми запусками 24 часа: %+v", d)
	}
	job.LastGeneratedAt = nil
	if d, _ := NewEngine(gate).Evaluate(context.Background(), job, now); !d.Due() {
		t.Fatalf("ожидали запуск по тренду: %+v", d)
	}
	if d, _ := NewEngine(nil).Evaluate(context.Background(), job, now); d.Due() {
		t.Fatalf("без шлюза задача по сигналу не запускается: %+v", d)
	}
}
