package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"creatorpulse/internal/app"
	"creatorpulse/internal/infra/config"
	httpinfra "creatorpulse/internal/infra/http"
	logpkg "creatorpulse/internal/infra/log"
	"creatorpulse/internal/infra/metrics"
	"creatorpulse/internal/usecase/cron"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать зависимости")
	}
	defer a.Close()

	var alerter cron.Alerter
	if a.Alerts != nil {
		alerter = a.Alerts
	}
	driver := cron.NewDriver(a.Store, a.Engine, a.Pipeline, a.Lease, alerter, cron.Options{
		Interval:   cfg.Scheduler.Interval,
		Backoff:    cfg.Scheduler.Backoff,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Workers:    cfg.Scheduler.Workers,
		LeaseTTL:   cfg.Scheduler.LeaseTTL,
	}, logger)

	srv := httpinfra.NewServer(logpkg.Component(logger, "http"), driver.Health)
	srv.Router.Get("/feed.atom", a.Feed.ServeHTTP)
	go func() {
		if err := srv.Start(cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Msg("scheduler: http сервер остановлен")
		}
	}()

	if err := driver.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось запустить цикл")
	}
	<-ctx.Done()
	logger.Info().Msg("scheduler: получен сигнал остановки")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.JobTimeout+30*time.Second)
	defer cancel()
	if err := driver.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler: текущий тик не завершился вовремя")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler: http сервер не остановился")
	}
}
