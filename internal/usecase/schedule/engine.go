package schedule

import (
	"context"
	"fmt"
	"time"

	"creatorpulse/internal/domain"
)

const defaultTrendIntervalHours = 24

// NextFireTime возвращает первый запуск строго после after в часовом поясе задачи.
// Для расписаний по сигналу времени запуска нет: возвращается ok = false.
func NextFireTime(cfg domain.ScheduleConfig, after time.Time) (next time.Time, ok bool, err error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, false, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, false, err
	}
	local := after.In(loc)

	switch s := cfg.Schedule.(type) {
	case domain.StandardSchedule:
		next = nextStandard(s, local)
	case domain.IntervalSchedule:
		next, err = nextInterval(s, local)
	case domain.BusinessHoursSchedule:
		next = nextBusinessHours(s, local)
	case domain.CronSchedule:
		sched, perr := s.Parse()
		if perr != nil {
			return time.Time{}, false, perr
		}
		next = sched.Next(local)
		if next.IsZero() {
			return time.Time{}, false, fmt.Errorf("%w: выражение %q не даёт запусков", domain.ErrInvalidSchedule, s.Expression)
		}
	case domain.ContentBasedSchedule, domain.TrendBasedSchedule:
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: неизвестный вариант %T", domain.ErrInvalidSchedule, cfg.Schedule)
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return next, true, nil
}

func nextStandard(s domain.StandardSchedule, local time.Time) time.Time {
	h, m, sec, _ := domain.ParseClock(s.Time)
	at := func(day int) time.Time {
		return time.Date(local.Year(), local.Month(), day, h, m, sec, 0, local.Location())
	}
	switch s.Frequency {
	case domain.FrequencyWeekly:
		offset := (int(isoToWeekday(s.Day)) - int(local.Weekday()) + 7) % 7
		candidate := at(local.Day() + offset)
		if !candidate.After(local) {
			candidate = at(local.Day() + offset + 7)
		}
		return candidate
	case domain.FrequencyMonthly:
		for i := 0; ; i++ {
			first := time.Date(local.Year(), local.Month()+time.Month(i), 1, 0, 0, 0, 0, local.Location())
			day := s.Day
			if last := daysIn(first.Year(), first.Month()); day > last {
				day = last
			}
			candidate := time.Date(first.Year(), first.Month(), day, h, m, sec, 0, local.Location())
			if candidate.After(local) {
				return candidate
			}
		}
	default:
		candidate := at(local.Day())
		if !candidate.After(local) {
			candidate = at(local.Day() + 1)
		}
		return candidate
	}
}

// nextInterval: время суток задаёт серию start + k·interval в пределах каждого дня,
// абсолютный момент задаёт бесконечную серию.
func nextInterval(s domain.IntervalSchedule, local time.Time) (time.Time, error) {
	start, absolute, err := s.Start()
	if err != nil {
		return time.Time{}, err
	}
	step := time.Duration(s.IntervalHours) * time.Hour
	if absolute {
		if start.After(local) {
			return start.In(local.Location()), nil
		}
		// Шаг считается в секундах: разность дат за века не помещается в time.Duration.
		stepSec := int64(s.IntervalHours) * 3600
		k := (local.Unix()-start.Unix())/stepSec + 1
		next := time.Unix(start.Unix()+k*stepSec, int64(start.Nanosecond())).In(local.Location())
		if !next.After(local) {
			return time.Time{}, fmt.Errorf("%w: не удалось вычислить следующий запуск интервала", domain.ErrInvalidSchedule)
		}
		return next, nil
	}

	for dayOffset := 0; ; dayOffset++ {
		base := time.Date(local.Year(), local.Month(), local.Day()+dayOffset, start.Hour(), start.Minute(), start.Second(), 0, local.Location())
		y, m, d := base.Date()
		for t := base; ; t = t.Add(step) {
			if ty, tm, td := t.Date(); ty != y || tm != m || td != d {
				break
			}
			if t.After(local) {
				return t, nil
			}
		}
	}
}

func nextBusinessHours(s domain.BusinessHoursSchedule, local time.Time) time.Time {
	days := make(map[int]struct{}, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		days[d] = struct{}{}
	}
	for i := 0; ; i++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+i, s.StartHour, 0, 0, 0, local.Location())
		if _, ok := days[weekdayToISO(candidate.Weekday())]; ok && candidate.After(local) {
			return candidate
		}
	}
}

// Preview возвращает до n ближайших запусков после from.
func Preview(cfg domain.ScheduleConfig, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cursor := from
	for len(out) < n {
		next, ok, err := NextFireTime(cfg, cursor)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// Decision — результат проверки задачи на текущем тике.
type Decision struct {
	State  domain.JobState
	Slot   time.Time
	Reason string
}

// Due сообщает, что задачу нужно запустить.
func (d Decision) Due() bool { return d.State == domain.JobDue }

// Gate проверяет сигналы для расписаний по контенту и трендам.
type Gate interface {
	ContentSignal(ctx context.Context, job domain.AutoNewsletterJob, s domain.ContentBasedSchedule) (bool, string, error)
	TrendSignal(ctx context.Context, job domain.AutoNewsletterJob, s domain.TrendBasedSchedule) (bool, string, error)
}

// Engine решает, пора ли запускать задачу.
type Engine struct {
	gate Gate
}

// NewEngine создаёт движок расписаний. gate может быть nil, тогда задачи по сигналу не запускаются.
func NewEngine(gate Gate) *Engine {
	return &Engine{gate: gate}
}

// Evaluate проверяет задачу в момент now.
func (e *Engine) Evaluate(ctx context.Context, job domain.AutoNewsletterJob, now time.Time) (Decision, error) {
	pending := func(reason string) Decision { return Decision{State: domain.JobPending, Reason: reason} }
	switch s := job.Schedule.Schedule.(type) {
	case domain.ContentBasedSchedule:
		if throttled(job, s.MaxFrequencyHours, now) {
			return pending("ограничение частоты"), nil
		}
		if e.gate == nil {
			return pending("нет источника сигналов"), nil
		}
		ok, reason, err := e.gate.ContentSignal(ctx, job, s)
		if err != nil {
			return pending(""), fmt.Errorf("проверка всплесков: %w", err)
		}
		if !ok {
			return pending(reason), nil
		}
		return Decision{State: domain.JobDue, Reason: reason}, nil
	case domain.TrendBasedSchedule:
		minHours := s.MinIntervalHours
		if minHours == 0 {
			minHours = defaultTrendIntervalHours
		}
		if throttled(job, minHours, now) {
			return pending("ограничение частоты"), nil
		}
		if e.gate == nil {
			return pending("нет источника сигналов"), nil
		}
		ok, reason, err := e.gate.TrendSignal(ctx, job, s)
		if err != nil {
			return pending(""), fmt.Errorf("проверка трендов: %w", err)
		}
		if !ok {
			return pending(reason), nil
		}
		return Decision{State: domain.JobDue, Reason: reason}, nil
	}

	anchor := job.CreatedAt
	if job.LastGeneratedAt != nil {
		anchor = *job.LastGeneratedAt
	}
	next, ok, err := NextFireTime(job.Schedule, anchor)
	if err != nil {
		return pending(""), err
	}
	if !ok || next.After(now) {
		return Decision{State: domain.JobPending, Slot: next, Reason: "ждёт слота"}, nil
	}
	return Decision{State: domain.JobDue, Slot: next.UTC(), Reason: "наступил слот"}, nil
}

func throttled(job domain.AutoNewsletterJob, hours int, now time.Time) bool {
	if job.LastGeneratedAt == nil || hours <= 0 {
		return false
	}
	return now.Before(job.LastGeneratedAt.Add(time.Duration(hours) * time.Hour))
}

// isoToWeekday переводит 1 = понедельник … 7 = воскресенье в time.Weekday.
func isoToWeekday(day int) time.Weekday {
	return time.Weekday(day % 7)
}

func weekdayToISO(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
