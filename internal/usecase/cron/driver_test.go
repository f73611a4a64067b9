package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creatorpulse/internal/adapters/repo"
	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/cache"
	"creatorpulse/internal/usecase/newsletter"
	"creatorpulse/internal/usecase/schedule"
)

var fixedNow = time.Date(2024, 3, 11, 9, 0, 30, 0, time.UTC)

type stubEvaluator struct {
	decisions map[uuid.UUID]schedule.Decision
	errs      map[uuid.UUID]error
	panics    map[uuid.UUID]bool
}

func (s *stubEvaluator) Evaluate(_ context.Context, job domain.AutoNewsletterJob, _ time.Time) (schedule.Decision, error) {
	if s.panics[job.ID] {
		panic("gate exploded")
	}
	if err := s.errs[job.ID]; err != nil {
		return schedule.Decision{}, err
	}
	if d, ok := s.decisions[job.ID]; ok {
		return d, nil
	}
	return schedule.Decision{State: domain.JobPending}, nil
}

type stubRunner struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	run   func(job domain.AutoNewsletterJob) (domain.Draft, error)
}

func (s *stubRunner) Run(_ context.Context, job domain.AutoNewsletterJob) (domain.Draft, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[uuid.UUID]int)
	}
	s.calls[job.ID]++
	s.mu.Unlock()
	if s.run != nil {
		return s.run(job)
	}
	return domain.Draft{ID: uuid.New(), JobID: job.ID}, nil
}

func (s *stubRunner) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type stubAlerter struct {
	mu     sync.Mutex
	failed []uuid.UUID
}

func (s *stubAlerter) JobFailed(_ context.Context, job domain.AutoNewsletterJob, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, job.ID)
	return nil
}

func createJobs(t *testing.T, store *repo.Memory, n int) []domain.AutoNewsletterJob {
	t.Helper()
	jobs := make([]domain.AutoNewsletterJob, 0, n)
	for i := 0; i < n; i++ {
		job, err := store.CreateJob(context.Background(), domain.AutoNewsletterJob{
			BundleID:  uuid.New(),
			IsActive:  true,
			CreatedAt: fixedNow.Add(-time.Duration(n-i) * time.Hour),
			Schedule:  domain.ScheduleConfig{Timezone: "UTC", Schedule: domain.StandardSchedule{Frequency: domain.FrequencyDaily, Time: "09:00"}},
		})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func dueAt(slot time.Time) schedule.Decision {
	return schedule.Decision{State: domain.JobDue, Slot: slot, Reason: "наступил слот"}
}

func newDriver(store domain.JobRepo, eval Evaluator, runner Runner, lease domain.JobLease, alert Alerter, workers int) *Driver {
	d := NewDriver(store, eval, runner, lease, alert, Options{Workers: workers}, zerolog.Nop())
	d.now = func() time.Time { return fixedNow }
	return d
}

func TestTickIsolatesFailingJobs(t *testing.T) {
	for _, workers := range []int{1, 3} {
		store := repo.NewMemory()
		jobs := createJobs(t, store, 4)
		slot := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
		eval := &stubEvaluator{
			decisions: map[uuid.UUID]schedule.Decision{jobs[0].ID: dueAt(slot), jobs[1].ID: dueAt(slot), jobs[2].ID: dueAt(slot)},
			errs:      map[uuid.UUID]error{jobs[3].ID: errors.New("bad gate")},
		}
		runner := &stubRunner{run: func(job domain.AutoNewsletterJob) (domain.Draft, error) {
			switch job.ID {
			case jobs[0].ID:
				panic("boom")
			case jobs[1].ID:
				return domain.Draft{}, errors.New("llm down")
			}
			return domain.Draft{ID: uuid.New()}, nil
		}}
		alert := &stubAlerter{}
		d := newDriver(store, eval, runner, cache.NewMemory(), alert, workers)

		report, err := d.Tick(context.Background())
		if err != nil {
			t.Fatalf("workers=%d: не ожидали ошибку цикла: %v", workers, err)
		}
		if report.Active != 4 || report.Due != 3 || report.Fired != 1 || report.Failed != 3 {
			t.Fatalf("workers=%d: неожиданный отчёт: %+v", workers, report)
		}
		if runner.count(jobs[2].ID) != 1 {
			t.Fatalf("workers=%d: исправная задача должна выполниться", workers)
		}
		if len(alert.failed) != 2 {
			t.Fatalf("workers=%d: ожидали 2 оповещения, получили %d", workers, len(alert.failed))
		}
	}
}

func TestTickSurvivesEvaluatorPanic(t *testing.T) {
	store := repo.NewMemory()
	jobs := createJobs(t, store, 3)
	slot := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	eval := &stubEvaluator{
		decisions: map[uuid.UUID]schedule.Decision{jobs[1].ID: dueAt(slot), jobs[2].ID: dueAt(slot)},
		panics:    map[uuid.UUID]bool{jobs[0].ID: true},
	}
	runner := &stubRunner{}
	d := newDriver(store, eval, runner, nil, nil, 1)

	report, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("паника шлюза не должна становиться ошибкой цикла: %v", err)
	}
	if report.Failed != 1 || report.Due != 2 || report.Fired != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if runner.count(jobs[1].ID) != 1 || runner.count(jobs[2].ID) != 1 {
		t.Fatalf("остальные задачи должны выполниться")
	}
}

func TestTickFireSlotDedup(t *testing.T) {
	store := repo.NewMemory()
	jobs := createJobs(t, store, 1)
	slot := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	eval := &stubEvaluator{decisions: map[uuid.UUID]schedule.Decision{jobs[0].ID: dueAt(slot)}}
	runner := &stubRunner{}
	d := newDriver(store, eval, runner, nil, nil, 1)

	for i := 0; i < 2; i++ {
		if _, err := d.Tick(context.Background()); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if runner.count(jobs[0].ID) != 1 {
		t.Fatalf("слот должен отработать один раз, запусков %d", runner.count(jobs[0].ID))
	}

	// Второй экземпляр с общим хранилищем видит занятый слот.
	other := newDriver(store, eval, runner, nil, nil, 1)
	report, _ := other.Tick(context.Background())
	if report.Skipped != 1 || runner.count(jobs[0].ID) != 1 {
		t.Fatalf("ожидали пропуск на втором экземпляре: %+v", report)
	}
}

func TestTickFailedRunReleasesSlot(t *testing.T) {
	store := repo.NewMemory()
	jobs := createJobs(t, store, 1)
	slot := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	eval := &stubEvaluator{decisions: map[uuid.UUID]schedule.Decision{jobs[0].ID: dueAt(slot)}}
	attempts := 0
	runner := &stubRunner{run: func(domain.AutoNewsletterJob) (domain.Draft, error) {
		attempts++
		if attempts == 1 {
			return domain.Draft{}, newsletter.ErrNoContent
		}
		return domain.Draft{ID: uuid.New()}, nil
	}}
	alert := &stubAlerter{}
	d := newDriver(store, eval, runner, nil, alert, 1)

	first, _ := d.Tick(context.Background())
	if first.Fired != 0 || first.Failed != 0 || first.Skipped != 1 {
		t.Fatalf("пустой запуск не считается сбоем: %+v", first)
	}
	second, _ := d.Tick(context.Background())
	if second.Fired != 1 {
		t.Fatalf("после неудачи слот должен повториться: %+v", second)
	}
	if len(alert.failed) != 0 {
		t.Fatalf("об отсутствии контента не оповещаем")
	}
}

func TestTickRespectsLease(t *testing.T) {
	store := repo.NewMemory()
	jobs := createJobs(t, store, 1)
	lease := cache.NewMemory()
	release, ok, _ := lease.Acquire(context.Background(), "job:"+jobs[0].ID.String(), time.Hour)
	if !ok {
		t.Fatalf("ожидали захват блокировки")
	}
	eval := &stubEvaluator{decisions: map[uuid.UUID]schedule.Decision{jobs[0].ID: {State: domain.JobDue, Reason: "всплеск"}}}
	runner := &stubRunner{}
	d := newDriver(store, eval, runner, lease, nil, 1)

	report, _ := d.Tick(context.Background())
	if report.Skipped != 1 || runner.count(jobs[0].ID) != 0 {
		t.Fatalf("занятая задача должна пропускаться: %+v", report)
	}
	release()
	report, _ = d.Tick(context.Background())
	if report.Fired != 1 {
		t.Fatalf("после освобождения блокировки задача должна выполниться: %+v", report)
	}
	// Без слота задачи по сигналу запускаются на каждом тике, пока сигнал есть.
	report, _ = d.Tick(context.Background())
	if report.Fired != 1 || runner.count(jobs[0].ID) != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
}

type failingJobs struct {
	*repo.Memory
	err error
}

func (f failingJobs) ListActiveJobs(context.Context) ([]domain.AutoNewsletterJob, error) {
	return nil, f.err
}

func TestTickLoopErrorAndHealth(t *testing.T) {
	d := newDriver(failingJobs{Memory: repo.NewMemory(), err: errors.New("db down")}, &stubEvaluator{}, &stubRunner{}, nil, nil, 1)
	if _, err := d.Tick(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку цикла")
	}
	state, err := d.Health()
	if err == nil || state["ticks"].(int64) != 1 {
		t.Fatalf("неожиданное состояние: %v %v", state, err)
	}

	partial := newDriver(failingJobs{Memory: repo.NewMemory(), err: domain.ErrInvalidSchedule}, &stubEvaluator{}, &stubRunner{}, nil, nil, 1)
	if _, err := partial.Tick(context.Background()); err != nil {
		t.Fatalf("некорректное расписание отдельной задачи не ошибка цикла: %v", err)
	}
	if _, err := partial.Health(); err != nil {
		t.Fatalf("не ожидали ошибку здоровья: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	store := repo.NewMemory()
	jobs := createJobs(t, store, 1)
	started := make(chan struct{})
	var once sync.Once
	runner := &stubRunner{run: func(domain.AutoNewsletterJob) (domain.Draft, error) {
		once.Do(func() { close(started) })
		return domain.Draft{ID: uuid.New()}, nil
	}}
	eval := &stubEvaluator{decisions: map[uuid.UUID]schedule.Decision{jobs[0].ID: {State: domain.JobDue}}}
	d := NewDriver(store, eval, runner, nil, nil, Options{Interval: time.Hour}, zerolog.Nop())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatalf("повторный запуск должен вернуть ошибку")
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("первый тик не выполнился")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("не ожидали ошибку остановки: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("повторная остановка безопасна: %v", err)
	}
}
