package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creatorpulse/internal/app"
	"creatorpulse/internal/infra/config"
	logpkg "creatorpulse/internal/infra/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{
		newApp: func(ctx context.Context) (*app.App, error) {
			cfg := config.Load()
			return app.New(ctx, cfg, logpkg.NewLogger(cfg.AppEnv))
		},
		now: time.Now,
	}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
