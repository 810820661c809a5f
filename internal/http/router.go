package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-registrations/internal/idempotency"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/rateLimit"
)

const (
	actorRatePerMinute = 60
	ipRatePerMinute    = 300
)

func SetupRouter(h *Handlers, logger observability.Logger, jwtSecret string, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
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
			r.Use(JWTMiddleware(jwtSecret))
			r.Use(RateLimitMiddleware(rl, actorRatePerMinute, ipRatePerMinute))
			r.Use(IdempotencyMiddleware(idemp))

			r.Post("/events", h.CreateEvent)
			r.Route("/events/{id}", func(r chi.Router) {
				r.Get("/", h.GetEvent)
				r.Patch("/", h.UpdateEvent)
				r.Post("/status", h.TransitionEvent)
				r.Get("/availability", h.GetAvailability)
				r.Get("/capacity/stream", h.StreamCapacity)
				r.Get("/registrations", h.ListRegistrations)
				r.Post("/registrations", h.Register)
				r.Post("/tickets/verify", h.VerifyTicket)
				r.Post("/teams", h.CreateTeam)
				r.Get("/teams/mine", h.MyTeam)
			})

			r.Get("/registrations/mine", h.MyRegistrations)
			r.Route("/registrations/{id}", func(r chi.Router) {
				r.Get("/", h.GetRegistration)
				r.Post("/cancel", h.CancelRegistration)
				r.Post("/payment-proof", h.UploadPaymentProof)
				r.Post("/approve", h.ApprovePayment)
				r.Post("/reject", h.RejectPayment)
				r.Post("/attend", h.MarkAttended)
				r.Get("/ticket", h.GetTicket)
			})

			r.Post("/teams/join", h.JoinTeam)
			r.Route("/teams/{id}", func(r chi.Router) {
				r.Get("/", h.GetTeam)
				r.Post("/leave", h.LeaveTeam)
				r.Post("/cancel", h.CancelTeam)
			})
		})
	})

	return r
}
