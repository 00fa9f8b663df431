package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/clinic-reminders/internal/http/middleware"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

// RouteRegistrar mounts a feature's routes under /admin/orgs/{orgID}.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	AdminAuthSecret string
	CronSecret      string
	MetricsHandler  http.Handler

	// CronReminders runs one dispatch pass; nil leaves the route unmounted.
	CronReminders http.Handler
	// CronLimiter bounds how often the cron route can be hit. Optional.
	CronLimiter *httpmiddleware.RateLimiter

	// Admin features mounted under /admin/orgs/{orgID}
	AdminRoutes []RouteRegistrar

	// HealthCheck reports dependency health for /health. Optional.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.CronReminders != nil {
		r.Route("/api/cron", func(cron chi.Router) {
			cron.Use(httpmiddleware.CronSecret(cfg.CronSecret))
			if cfg.CronLimiter != nil {
				cron.Use(httpmiddleware.RateLimit(cfg.CronLimiter))
			}
			cron.Method(http.MethodGet, "/send-reminders", cfg.CronReminders)
		})
	}

	if len(cfg.AdminRoutes) > 0 {
		r.Route("/admin/orgs/{orgID}", func(admin chi.Router) {
			admin.Use(scopeOrg)
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(httpmiddleware.RequireOrgScope)
			for _, reg := range cfg.AdminRoutes {
				if reg != nil {
					reg.RegisterRoutes(admin)
				}
			}
		})
	}

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
