// Package apiv1 is the operator HTTP API over the billing engine.
package apiv1

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"resume-billing/internal/infra/api"
	"resume-billing/internal/usecase"
)

// CycleTrigger runs one reconciliation sweep on demand.
type CycleTrigger interface {
	RunOnce(ctx context.Context) (usecase.CycleReport, bool)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Deps struct {
	Subscriptions usecase.SubscriptionUseCase
	Usage         usecase.UsageUseCase
	Plans         usecase.PlanUseCase
	Cycle         CycleTrigger
	Limiter       RateLimiter
	Auth          *AuthManager
	// RateLimit caps consume calls per user and feature each minute. Zero disables it.
	RateLimit int
}

// requestTimeout bounds every /api/v1 call, including an on-demand cycle sweep.
const requestTimeout = 2 * time.Minute

type Server struct {
	Deps
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{Deps: deps, validate: validator.New(validator.WithRequiredStructEnabled()), log: &l}
}

// RegisterAPIV1 mounts health, metrics and the authenticated /api/v1 routes.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Use(api.TraceID(), api.Recover(s.log), api.RequestLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", api.Chain(promhttp.Handler(), api.Timeout(10*time.Second)))

	r.Route("/api/v1", func(r chi.Router) {
		if s.Auth != nil {
			r.Use(s.Auth.Middleware)
		}
		r.Use(api.Timeout(requestTimeout))

		r.Get("/plans", s.listPlans)
		r.Get("/plans/{planID}", s.getPlan)
		r.Get("/plans/{planID}/price", s.planPrice)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/subscription", s.getActiveSubscription)
			r.Get("/subscriptions", s.listSubscriptionHistory)
			r.Post("/plan-selection", s.associatePlan)
			r.Post("/free-plan", s.activateFreePlan)
			r.Get("/proration", s.calculateProration)
			r.Post("/upgrade", s.upgrade)
			r.Post("/activate-paid", s.activatePaid)
			r.Post("/downgrade", s.scheduleDowngrade)
			r.Post("/cancel", s.cancel)

			r.Get("/usage", s.listUsage)
			r.Get("/features/{featureID}", s.checkFeature)
			r.With(api.RequireFeature(s.Usage, userAndFeature, s.writeError)).
				Post("/features/{featureID}/consume", s.consumeFeature)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Put("/plans/{planID}", s.savePlan)
			r.Post("/cycle", s.runCycle)
			r.Post("/scheduled-changes", s.runScheduledChanges)
			r.Post("/usage-reset", s.runUsageReset)
			r.Get("/stats", s.stats)
		})
	})
}

func userAndFeature(r *http.Request) (string, string) {
	return chi.URLParam(r, "userID"), chi.URLParam(r, "featureID")
}
