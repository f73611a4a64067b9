package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infra/metrics"
	"creatorpulse/internal/usecase/newsletter"
	"creatorpulse/internal/usecase/schedule"
)

const (
	defaultInterval   = time.Minute
	defaultBackoff    = 5 * time.Minute
	defaultJobTimeout = 10 * time.Minute
	defaultLeaseTTL   = 15 * time.Minute
)

// Evaluator решает, пора ли запускать задачу.
type Evaluator interface {
	Evaluate(ctx context.Context, job domain.AutoNewsletterJob, now time.Time) (schedule.Decision, error)
}

// Runner выполняет генерацию задачи.
type Runner interface {
	Run(ctx context.Context, job domain.AutoNewsletterJob) (domain.Draft, error)
}

// Alerter получает оповещения о сбоях задач.
type Alerter interface {
	JobFailed(ctx context.Context, job domain.AutoNewsletterJob, cause error) error
}

// Options настраивает цикл планировщика.
type Options struct {
	Interval   time.Duration
	Backoff    time.Duration
	JobTimeout time.Duration
	Workers    int
	LeaseTTL   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = defaultJobTimeout
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = defaultLeaseTTL
	}
	return o
}

// TickReport — итог одного тика.
type TickReport struct {
	Active  int
	Due     int
	Fired   int
	Failed  int
	Skipped int
}

// Driver периодически проверяет активные задачи и запускает наступившие.
type Driver struct {
	jobs   domain.JobRepo
	eval   Evaluator
	runner Runner
	lease  domain.JobLease
	alert  Alerter
	opts   Options
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	health  health
	running bool
}

type health struct {
	lastTick   time.Time
	lastErr    error
	lastReport TickReport
	ticks      int64
}

// NewDriver создаёт планировщик. lease и alert могут быть nil.
func NewDriver(jobs domain.JobRepo, eval Evaluator, runner Runner, lease domain.JobLease, alert Alerter, opts Options, logger zerolog.Logger) *Driver {
	return &Driver{
		jobs:   jobs,
		eval:   eval,
		runner: runner,
		lease:  lease,
		alert:  alert,
		opts:   opts.withDefaults(),
		log:    logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Start запускает цикл в отдельной горутине. Первый тик выполняется сразу.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("scheduler: уже запущен")
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(ctx, d.stop, d.done)
	d.log.Info().Dur("interval", d.opts.Interval).Int("workers", d.opts.Workers).Msg("scheduler: запущен")
	return nil
}

// Stop останавливает цикл и ждёт завершения текущего тика или отмены ctx.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()

	select {
	case <-done:
		d.log.Info().Msg("scheduler: остановлен")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	// Тик не прерывается остановкой: начатые задачи доводятся до конца.
	tickCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		wait := d.opts.Interval
		if _, err := d.Tick(tickCtx); err != nil {
			metrics.SchedulerTickErrors.Inc()
			d.log.Error().Err(err).Dur("backoff", d.opts.Backoff).Msg("scheduler: ошибка цикла, пауза")
			wait = d.opts.Backoff
		}
		timer.Reset(wait)
	}
}

// Tick выполняет одну проверку всех активных задач. Ошибка возвращается только для сбоев уровня цикла.
func (d *Driver) Tick(ctx context.Context) (TickReport, error) {
	metrics.SchedulerTicks.Inc()
	now := d.now().UTC()

	jobs, err := d.jobs.ListActiveJobs(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidSchedule) {
			d.record(now, TickReport{}, err)
			return TickReport{}, fmt.Errorf("получение активных задач: %w", err)
		}
		d.log.Warn().Err(err).Msg("scheduler: часть задач пропущена из-за некорректного расписания")
	}

	report := TickReport{Active: len(jobs)}
	type dueJob struct {
		job      domain.AutoNewsletterJob
		decision schedule.Decision
	}
	var due []dueJob
	for _, job := range jobs {
		decision, err := d.evaluate(ctx, job, now)
		if err != nil {
			d.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("scheduler: не удалось проверить задачу")
			report.Failed++
			continue
		}
		if decision.Due() {
			due = append(due, dueJob{job: job, decision: decision})
		}
	}
	report.Due = len(due)

	outcomes := make([]string, len(due))
	if d.opts.Workers == 1 {
		for i, item := range due {
			outcomes[i] = d.dispatch(ctx, item.job, item.decision)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.opts.Workers)
		for i, item := range due {
			i, item := i, item
			g.Go(func() error {
				outcomes[i] = d.dispatch(ctx, item.job, item.decision)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, outcome := range outcomes {
		switch outcome {
		case outcomeFired:
			report.Fired++
		case outcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}

	d.record(now, report, nil)
	if report.Due > 0 {
		d.log.Info().Int("active", report.Active).Int("due", report.Due).Int("fired", report.Fired).Int("failed", report.Failed).Msg("scheduler: тик завершён")
	}
	return report, nil
}

const (
	outcomeFired   = "fired"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
	outcomeEmpty   = "empty"
)

func (d *Driver) dispatch(ctx context.Context, job domain.AutoNewsletterJob, decision schedule.Decision) string {
	kind := string(job.Schedule.Schedule.Kind())
	logger := d.log.With().Str("job_id", job.ID.String()).Str("schedule", kind).Logger()

	if d.lease != nil {
		release, ok, err := d.lease.Acquire(ctx, "job:"+job.ID.String(), d.opts.LeaseTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("scheduler: не удалось взять блокировку задачи")
			metrics.ObserveJob(kind, outcomeSkipped, 0)
			return outcomeSkipped
		}
		if !ok {
			logger.Debug().Msg("scheduler: задача выполняется другим экземпляром")
			metrics.ObserveJob(kind, outcomeSkipped, 0)
			return outcomeSkipped
		}
		defer release()
	}

	slotted := !decision.Slot.IsZero()
	if slotted {
		ok, err := d.jobs.AcquireFireSlot(ctx, job.ID, decision.Slot)
		if err != nil {
			logger.Warn().Err(err).Msg("scheduler: не удалось занять слот запуска")
			metrics.ObserveJob(kind, outcomeSkipped, 0)
			return outcomeSkipped
		}
		if !ok {
			logger.Debug().Time("slot", decision.Slot).Msg("scheduler: слот уже отработан")
			metrics.ObserveJob(kind, outcomeSkipped, 0)
			return outcomeSkipped
		}
	}

	start := time.Now()
	draft, err := d.run(ctx, job)
	elapsed := time.Since(start)
	if err != nil {
		if slotted {
			if rerr := d.jobs.ReleaseFireSlot(ctx, job.ID, decision.Slot); rerr != nil {
				logger.Warn().Err(rerr).Msg("scheduler: не удалось освободить слот")
			}
		}
		if errors.Is(err, newsletter.ErrNoContent) {
			logger.Info().Str("reason", decision.Reason).Msg("scheduler: нет контента, задача остаётся в ожидании")
			metrics.ObserveJob(kind, outcomeEmpty, elapsed)
			return outcomeEmpty
		}
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("scheduler: генерация не удалась")
		metrics.ObserveJob(kind, outcomeFailed, elapsed)
		if d.alert != nil {
			if aerr := d.alert.JobFailed(ctx, job, err); aerr != nil {
				logger.Warn().Err(aerr).Msg("scheduler: не удалось отправить оповещение")
			}
		}
		return outcomeFailed
	}
	logger.Info().Str("draft_id", draft.ID.String()).Str("reason", decision.Reason).Dur("elapsed", elapsed).Msg("scheduler: задача выполнена")
	metrics.ObserveJob(kind, outcomeFired, elapsed)
	return outcomeFired
}

// run запускает генерацию под собственным таймаутом и превращает панику в ошибку.
func (d *Driver) run(ctx context.Context, job domain.AutoNewsletterJob) (draft domain.Draft, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника при генерации: %v", r)
			d.log.Error().Str("job_id", job.ID.String()).Bytes("stack", debug.Stack()).Msg("scheduler: паника в задаче")
		}
	}()
	return d.runner.Run(ctx, job)
}

// evaluate проверяет задачу, превращая панику шлюза в ошибку этой задачи.
func (d *Driver) evaluate(ctx context.Context, job domain.AutoNewsletterJob, now time.Time) (decision schedule.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника при проверке задачи: %v", r)
			d.log.Error().Str("job_id", job.ID.String()).Bytes("stack", debug.Stack()).Msg("scheduler: паника при проверке")
		}
	}()
	return d.eval.Evaluate(ctx, job, now)
}

func (d *Driver) record(at time.Time, report TickReport, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health.lastTick = at
	d.health.lastErr = err
	d.health.ticks++
	if err == nil {
		d.health.lastReport = report
	}
}

// Health возвращает состояние цикла для /healthz. Ошибка последнего тика делает процесс нездоровым.
func (d *Driver) Health() (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := map[string]any{
		"scheduler_running": d.running,
		"ticks":             d.health.ticks,
		"last_due":          d.health.lastReport.Due,
		"last_fired":        d.health.lastReport.Fired,
		"last_failed":       d.health.lastReport.Failed,
	}
	if !d.health.lastTick.IsZero() {
		state["last_tick"] = d.health.lastTick.Format(time.RFC3339)
	}
	return state, d.health.lastErr
}
