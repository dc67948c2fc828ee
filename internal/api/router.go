package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/hostdeck/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	webhookLimiter := middleware.NewRateLimiter(s.config.WebhookRatePerMinute)
	adminLimiter := middleware.NewRateLimiter(s.config.AdminRatePerMinute)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, NewNotFound("route not found"))
	})

	// Webhook intake, authenticated by the per-target token in the path.
	r.With(middleware.RateLimitByKey(webhookLimiter, func(r *http.Request) string {
		return chi.URLParam(r, "id")
	})).Post("/webhook/{id}/{token}", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(adminLimiter))
		r.Use(middleware.JWTAuth(s.jwt))

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Post("/", s.createTarget)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getTarget)
				r.Put("/", s.updateTarget)
				r.Delete("/", s.deleteTarget)
				r.Post("/toggle", s.toggleTarget)
				r.Get("/ssh-key", s.getSSHKey)
				r.Post("/ssh-key", s.issueSSHKey)
				r.Post("/deploy", s.triggerDeploy)
				r.Get("/runs", s.listTargetRuns)
			})
		})

		r.Get("/deployments", s.listDeployments)
		r.Get("/deployments/{id}", s.getDeployment)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", s.queueStats)
			r.Get("/pending", s.listPending)
			r.Get("/pending/{id}", s.getPending)
			r.Delete("/pending/{id}", s.deletePending)
			r.Get("/failed", s.listFailed)
			r.Delete("/failed", s.clearFailed)
			r.Post("/failed/retry", s.retryAllFailed)
			r.Get("/failed/{id}", s.getFailed)
			r.Delete("/failed/{id}", s.deleteFailed)
			r.Post("/failed/{id}/retry", s.retryFailed)
		})

		r.Route("/alert-rules", func(r chi.Router) {
			r.Get("/", s.listAlertRules)
			r.Post("/", s.createAlertRule)
			r.Get("/{id}", s.getAlertRule)
			r.Put("/{id}", s.updateAlertRule)
			r.Delete("/{id}", s.deleteAlertRule)
			r.Post("/{id}/toggle", s.toggleAlertRule)
		})

		r.Get("/alerts", s.listAlerts)
		r.Post("/alerts/{id}/resolve", s.resolveAlert)

		r.Get("/metrics/latest", s.latestMetrics)
		r.Get("/metrics/recent", s.recentMetrics)
	})

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
