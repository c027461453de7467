package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes. health may be nil.
func SetupRoutes(h *Handlers, health *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
		r.Get("/health/db-stats", health.HandleDBStats)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		})
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/contacts/{contactID}/check", h.CheckContact)
		r.Get("/contacts/{contactID}/compliance", h.ContactCompliance)
		r.Post("/contacts/{contactID}/consent", h.GrantConsent)
		r.Delete("/contacts/{contactID}/consent", h.RevokeConsent)
		r.Post("/contacts/{contactID}/suppressions", h.Suppress)
		r.Delete("/contacts/{contactID}/suppressions", h.Reactivate)

		r.Post("/touches", h.RecordTouch)
		r.Post("/actions/check", h.CheckAction)

		r.Get("/lockdowns", h.ListLockdowns)
		r.Post("/lockdowns", h.ActivateLockdown)
		r.Post("/lockdowns/evaluate", h.EvaluateLockdowns)
		r.Post("/lockdowns/{id}/resolve", h.ResolveLockdown)

		r.Get("/emergency-stop", h.EmergencyStopStatus)
		r.Put("/emergency-stop", h.SetEmergencyStop)

		r.Post("/policy/invalidate", h.InvalidatePolicy)
		r.Get("/outreach-window", h.OutreachWindow)
		r.Get("/call-hours", h.CallHours)
		r.Get("/audit", h.ListAudit)
	})

	return r
}
