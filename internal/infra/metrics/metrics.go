package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SchedulerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_total",
		Help: "Количество тиков планировщика",
	})
	SchedulerTickErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_tick_errors_total",
		Help: "Тики планировщика, завершившиеся ошибкой цикла",
	})
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_job_runs_total",
		Help: "Запуски задач рассылок по результату",
	}, []string{"schedule", "outcome"})
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsletter_job_duration_seconds",
		Help:    "Длительность генерации рассылки",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"schedule"})

	EntriesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_entries_total",
		Help: "Новые записи, сохранённые из источников",
	}, []string{"source_type"})
	IngestFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_failures_total",
		Help: "Неудачные выгрузки источников",
	}, []string{"source_type"})

	SpikesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spikes_detected_total",
		Help: "Зарегистрированные всплески вовлечённости",
	})
	TrendLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trend_lookups_total",
		Help: "Запросы оценок трендов",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SchedulerTicks,
		SchedulerTickErrors,
		JobRuns,
		JobDuration,
		EntriesIngested,
		IngestFailures,
		SpikesDetected,
		TrendLookups,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с переданным обработчиком и останавливает его по ctx.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string, handler http.Handler) {
	if handler == nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		handler = mux
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status(err)).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status(err)).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveJob записывает результат и длительность запуска задачи.
func ObserveJob(schedule, outcome string, duration time.Duration) {
	JobRuns.WithLabelValues(schedule, outcome).Inc()
	if outcome != "skipped" {
		JobDuration.WithLabelValues(schedule).Observe(duration.Seconds())
	}
}

// ObserveTrendLookup считает запрос к провайдеру трендов.
func ObserveTrendLookup(err error) {
	TrendLookups.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
