package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service   SchedulingService
	Callbacks CallbackHandler
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	ClinicLoc *time.Location
	Env       string
	Version   string
	Log       *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment lifecycle
	r.Post("/appointments", requestAppointmentHandler(cfg.Service, cfg.ClinicLoc))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service, cfg.ClinicLoc))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, cfg.ClinicLoc))
	r.Post("/appointments/{id}/approve", approveAppointmentHandler(cfg.Service, cfg.ClinicLoc))
	r.Post("/appointments/{id}/decline", declineAppointmentHandler(cfg.Service, cfg.ClinicLoc))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, cfg.ClinicLoc))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service, cfg.ClinicLoc))
	r.Post("/appointments/{id}/payment-link", regeneratePaymentLinkHandler(cfg.Service))

	// Availability projection
	r.Get("/doctors/{id}/slots", listBookedSlotsHandler(cfg.Service, cfg.ClinicLoc))

	// Provider callback
	r.Post("/webhooks/payment", paymentCallbackHandler(cfg.Callbacks))

	return r
}
