package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-bookings/internal/auth"
	"github.com/robertarktes/event-bookings/internal/idempotency"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, verifier *auth.Verifier, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Get("/readyz", h.Readyz)

		r.Group(func(r chi.Router) {
			r.Use(JWTMiddleware(verifier, logger))
			r.Use(RateLimitMiddleware(rl, logger))
			r.Use(IdempotencyMiddleware(idemp, logger))

			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings", h.ListBookings)
			r.Delete("/bookings/{id}", h.CancelBooking)
			r.Delete("/bookings/events/{eventId}/mine", h.CancelEventBookings)

			r.Post("/events/{id}/waitlist", h.JoinWaitlist)
			r.Delete("/events/{id}/waitlist", h.LeaveWaitlist)
			r.Get("/events/{id}/waitlist", h.GetWaitlist)

			r.Get("/users/me/loyalty", h.GetLoyalty)
		})
	})

	return r
}
