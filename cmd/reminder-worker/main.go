package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-reminders/internal/app/bootstrap"
	"github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/observability/metrics"
	reminderworker "github.com/wolfman30/clinic-reminders/internal/worker/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.RequireWorker(); err != nil {
		logger.Error("reminder worker misconfigured", "error", err)
		os.Exit(1)
	}

	pg, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	pipeline, err := bootstrap.BuildDispatch(cfg, bootstrap.DispatchDeps{
		DB:      pg.Pool,
		SQL:     pg.SQL,
		Redis:   bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Metrics: metrics.NewDispatchMetrics(nil),
	}, "worker", logger)
	if err != nil {
		logger.Error("failed to build reminder pipeline", "error", err)
		os.Exit(1)
	}
	pipeline.WatchSessions(ctx)

	worker := reminderworker.NewWorker(pipeline.Dispatcher, logger).
		WithProducer(pipeline.Producer).
		WithInterval(cfg.PollInterval).
		WithBatchLimit(cfg.BatchLimit)
	if cfg.ReclaimAfter > 0 {
		sweeper := reminderworker.NewSweeper(pipeline.Jobs, cfg.ReclaimAfter, pipeline.Policy, logger)
		if pipeline.Logs != nil {
			sweeper.WithLogAppender(pipeline.Logs)
		}
		worker.WithSweeper(sweeper)
		logger.Info("stale claim reclaim enabled", "after", cfg.ReclaimAfter.String())
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("reminder worker shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("reminder worker did not finish its batch before shutdown timeout")
	}
}
