package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"creatorpulse/internal/app"
	"creatorpulse/internal/infra/config"
	logpkg "creatorpulse/internal/infra/log"
	"creatorpulse/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("crawler: не удалось собрать зависимости")
	}
	defer a.Close()

	metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr, nil)

	a.Ingest.Run(ctx)
	logger.Info().Msg("crawler: остановлен")
}
