package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/meridianbank/authrisk/internal/auth"
	"github.com/meridianbank/authrisk/internal/handlers"
	"github.com/meridianbank/authrisk/internal/middleware"
)

// RegisterRoutes registers all application routes. Every route requires a
// service token; there is no public surface.
func RegisterRoutes(
	router chi.Router,
	riskHandler *handlers.RiskHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	ingestLimit := middleware.DefaultIngestRateLimit()
	adminLimit := middleware.DefaultAdminRateLimit()

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		// Attempt ingestion and pre-flight checks, called by the
		// authentication flow on its hot path
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeIngest))
			r.Use(middleware.RateLimitByIP(ingestLimit))

			r.Post("/v1/attempts/login", riskHandler.RecordLoginAttempt)
			r.Post("/v1/attempts/registration", riskHandler.RecordRegistrationAttempt)
			r.Get("/v1/limits/login", riskHandler.CheckLoginLimit)
			r.Get("/v1/limits/registration", riskHandler.CheckRegistrationLimit)
		})

		// Operator read surface; risk:admin implies risk:read
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeRead))
			r.Use(middleware.RateLimitByIP(adminLimit))

			r.Get("/v1/admin/anomalies", adminHandler.ListUnresolvedAnomalies)
			r.Get("/v1/admin/users/{userID}/anomalies", adminHandler.ListUserAnomalies)
			r.Get("/v1/admin/users/{userID}/alerts", adminHandler.ListUserAlerts)
		})

		// Operator mutations
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeAdmin))
			r.Use(middleware.RateLimitByIP(adminLimit))

			r.Post("/v1/admin/anomalies/{anomalyID}/resolve", adminHandler.ResolveAnomaly)
			r.Post("/v1/admin/users/{userID}/alerts/{alertID}/read", adminHandler.MarkAlertRead)
			r.Post("/v1/admin/users/{userID}/alerts/{alertID}/action", adminHandler.MarkAlertActionTaken)
			r.Post("/v1/admin/limits/reset", adminHandler.ResetLimit)
			r.Post("/v1/admin/alerts/deliver", adminHandler.DeliverPendingAlerts)
			r.Post("/v1/admin/alerts/sweep", adminHandler.SweepExpiredAlerts)
		})
	})
}
