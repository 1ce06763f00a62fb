package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/api"
	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
	"github.com/mindhaven/telehealth-scheduling/internal/availability"
	"github.com/mindhaven/telehealth-scheduling/internal/config"
	"github.com/mindhaven/telehealth-scheduling/internal/db"
	"github.com/mindhaven/telehealth-scheduling/internal/payment"
	redisclient "github.com/mindhaven/telehealth-scheduling/internal/redis"
)

const version = "1.2.0"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
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

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	applied, err := db.NewMigrator(pgPool, cfg.MigrationsDir).Up(migCtx)
	cancelMig()
	if err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	if applied > 0 {
		log.Info().Int("applied", applied).Msg("migrations applied")
	}

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	loc := cfg.Location()

	apptRepo := appointment.NewPgRepository(pgPool)
	availRepo := availability.NewPgRepository(pgPool)
	availSvc := availability.NewService(availRepo, apptRepo, locker, loc, log)

	allocator := appointment.NewAllocator(apptRepo, availSvc, locker, cfg.PendingTTL, log)
	lifecycle := appointment.NewLifecycle(apptRepo, log)

	paymentRepo := payment.NewPgRepository(pgPool)
	stripeClient := payment.NewStripeClient(cfg.StripeSecretKey, cfg.StripeDryRun, log)
	bridge := payment.NewBridge(paymentRepo, apptRepo, lifecycle, stripeClient, log)

	router := api.NewRouter(api.RouterConfig{
		Allocator: allocator,
		Lifecycle: lifecycle,
		Avail:     availSvc,
		Bridge:    bridge,
		PgPool:    pgPool,
		Redis:     rdb,
		Location:  loc,
		JWTSecret: cfg.JWTSecret,
		Env:       cfg.Env,
		Version:   version,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("api-server stopped")
}
