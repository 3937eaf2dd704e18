package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicops/appointment-scheduling/internal/api"
	"github.com/clinicops/appointment-scheduling/internal/billing"
	"github.com/clinicops/appointment-scheduling/internal/booking"
	"github.com/clinicops/appointment-scheduling/internal/clock"
	"github.com/clinicops/appointment-scheduling/internal/config"
	"github.com/clinicops/appointment-scheduling/internal/db"
	"github.com/clinicops/appointment-scheduling/internal/logger"
	"github.com/clinicops/appointment-scheduling/internal/notify"
	"github.com/clinicops/appointment-scheduling/internal/payment"
	redisclient "github.com/clinicops/appointment-scheduling/internal/redis"
)

const version = "1.0.0"

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

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("clinic_timezone", cfg.ClinicTimezone))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Connect Redis
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

	gateway := payment.NewGateway(cfg)
	if !gateway.Configured() {
		log.Warn("payment gateway unconfigured, approvals will confirm without payment")
	}
	sessions := payment.NewSessionManager(gateway, repo, clk, cfg.PaymentWindow, log)

	svc := booking.NewService(repo, locker, sessions, notifier, clk, cfg, log)

	recorder := billing.NewPgRecorder(pgPool)
	processor := payment.NewEventProcessor(gateway, svc, recorder, notifier, clk, log)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Callbacks: processor,
		PgPool:    pgPool,
		Redis:     rdb,
		ClinicLoc: cfg.ClinicLocation(),
		Env:       cfg.Env,
		Version:   version,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}

	log.Info("api-server stopped")
}
