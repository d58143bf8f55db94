package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/booking-service/internal/booking"
	"github.com/medibook/booking-service/internal/config"
	"github.com/medibook/booking-service/internal/db"
	"github.com/medibook/booking-service/internal/logging"
)

// The janitor prunes doctor_slots rows dated before today. Past rows can
// never be listed or booked again; the appointments table keeps the
// history.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("janitor starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.JanitorInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)

	// Run once at startup
	runOnce(rootCtx, repo, logger)

	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping janitor")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, logger)
		}
	}
}

func runOnce(ctx context.Context, repo *booking.PgRepository, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	deleted, err := repo.DeletePastSlots(runCtx, booking.DateOf(time.Now()))
	if err != nil {
		logger.Error("janitor run error", zap.Error(err))
		return
	}
	logger.Info("janitor run complete",
		zap.Int64("slots_deleted", deleted),
		zap.Duration("took", time.Since(start)))
}
