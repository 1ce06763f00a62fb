package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
	"github.com/mindhaven/telehealth-scheduling/internal/config"
	"github.com/mindhaven/telehealth-scheduling/internal/db"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "expiry-worker").Logger()
	log.Info().Msg("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.ExpiryCron).
		Dur("pending_ttl", cfg.PendingTTL).
		Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	repo := appointment.NewPgRepository(pgPool)
	lifecycle := appointment.NewLifecycle(repo, log)

	runOnce(rootCtx, lifecycle, log)

	c := cron.New()
	_, err = c.AddFunc(cfg.ExpiryCron, func() {
		runOnce(rootCtx, lifecycle, log)
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ExpiryCron).Msg("invalid cron schedule")
	}
	c.Start()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping expiry worker")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn().Msg("timed out waiting for running sweep")
	}
}

func runOnce(ctx context.Context, lifecycle *appointment.Lifecycle, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := lifecycle.ExpireStalePending(runCtx); err != nil {
		log.Error().Err(err).Msg("expiry sweep error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("expiry sweep complete")
}
