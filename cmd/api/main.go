package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-reminders/internal/api/router"
	"github.com/wolfman30/clinic-reminders/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-reminders/internal/http/middleware"
	"github.com/wolfman30/clinic-reminders/internal/observability/metrics"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-reminders API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.RequireCron(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	metricsHandler, dispatchMetrics := setupMetrics()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	pipeline, err := bootstrap.BuildDispatch(cfg, bootstrap.DispatchDeps{
		DB:      pg.Pool,
		SQL:     pg.SQL,
		Redis:   redisClient,
		Metrics: dispatchMetrics,
	}, "cron", logger)
	if err != nil {
		logger.Error("failed to build reminder pipeline", "error", err)
		os.Exit(1)
	}
	pipeline.WatchSessions(ctx)

	// One cron hit per minute per caller, with a small burst for manual retries.
	cronLimiter := httpmiddleware.NewRateLimiter(1.0/60, 3)
	go cronLimiter.RunEviction(ctx, 10*time.Minute, time.Hour)

	r := router.New(buildRouterConfig(cfg, pipeline, metricsHandler, cronLimiter, pg.Ping, logger))

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.DispatchMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewDispatchMetrics(registry)
}

func buildRouterConfig(cfg *appconfig.Config, pipeline *bootstrap.Dispatch, metricsHandler http.Handler, cronLimiter *httpmiddleware.RateLimiter, health func(context.Context) error, logger *logging.Logger) *router.Config {
	return &router.Config{
		Logger:          logger,
		AdminAuthSecret: cfg.AdminJWTSecret,
		CronSecret:      cfg.CronSecret,
		MetricsHandler:  metricsHandler,
		CronReminders: handlers.NewCronRemindersHandler(handlers.CronRemindersConfig{
			Dispatcher: pipeline.Dispatcher,
			Producer:   pipeline.Producer,
			BatchLimit: cfg.EffectiveCronBatchLimit(),
			Logger:     logger,
		}),
		CronLimiter: cronLimiter,
		AdminRoutes: []router.RouteRegistrar{
			pipeline.AdminHandler(logger),
			handlers.NewAdminWhatsAppHandler(pipeline.Registry, logger),
		},
		HealthCheck: health,
	}
}
