package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicops/appointment-scheduling/internal/booking"
	"github.com/clinicops/appointment-scheduling/internal/clock"
	"github.com/clinicops/appointment-scheduling/internal/config"
	"github.com/clinicops/appointment-scheduling/internal/db"
	"github.com/clinicops/appointment-scheduling/internal/logger"
	"github.com/clinicops/appointment-scheduling/internal/notify"
	"github.com/clinicops/appointment-scheduling/internal/payment"
	redisclient "github.com/clinicops/appointment-scheduling/internal/redis"
)

// The deadline worker is optional. Deployments that want payment deadlines to
// stay informational simply do not run it; the API path never auto-cancels.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer log.Sync()

	log.Info("deadline-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.PaymentGrace))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	clk := clock.NewClinicClock(cfg.ClinicLocation())
	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	notifier := notify.NewLogNotifier(log)
	sessions := payment.NewSessionManager(payment.NewGateway(cfg), repo, clk, cfg.PaymentWindow, log)

	svc := booking.NewService(repo, locker, sessions, notifier, clk, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping deadline worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.CancelPaymentOverdue(runCtx); err != nil {
		log.Error("deadline sweep error", zap.Error(err))
		return
	}
	log.Info("deadline sweep complete", zap.Duration("took", time.Since(start)))
}
