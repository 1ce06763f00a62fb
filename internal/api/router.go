package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
	"github.com/mindhaven/telehealth-scheduling/internal/availability"
	"github.com/mindhaven/telehealth-scheduling/internal/payment"
)

type RouterConfig struct {
	Allocator *appointment.Allocator
	Lifecycle *appointment.Lifecycle
	Avail     *availability.Service
	Bridge    *payment.Bridge

	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Location *time.Location

	JWTSecret string
	Env       string
	Version   string
	Log       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandler(cfg.Allocator, cfg.Lifecycle, cfg.Avail, cfg.Bridge, cfg.Location, cfg.Log)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/appointments/check-availability", h.checkAvailability)
		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Delete("/appointments/{id}", h.cancelAppointment)
		r.Put("/appointments/{id}/join", h.joinAppointment)

		r.Get("/psychologists/{id}/slots", h.openSlots)

		r.Get("/availability/psychologist", h.listTemplates)
		r.Put("/availability/psychologist", h.createTemplate)
		r.Delete("/availability/psychologist", h.deactivateTemplate)

		r.Post("/payments/create-intent", h.createPaymentIntent)
		r.Post("/payments/update-status", h.updatePaymentStatus)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(appointment.RoleAdmin))

			r.Patch("/appointments/{id}/cancel", h.adminCancelAppointment)
			r.Patch("/appointments/{id}/complete", h.adminCompleteAppointment)
			r.Patch("/appointments/{id}/no-show", h.adminNoShowAppointment)
			r.Post("/payments/{id}/refund", h.refundPayment)
		})
	})

	return r
}
