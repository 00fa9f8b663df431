package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/wolfman30/clinic-reminders/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-reminders/internal/http/middleware"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

func TestSetupMetricsExposesDispatchMetrics(t *testing.T) {
	handler, m := setupMetrics()
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.ObserveOutcome("cron", "success")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clinic_reminders_send_outcomes_total") {
		t.Fatalf("expected outcome counter to be exported")
	}
}

func TestBuildRouterConfigMountsRoutes(t *testing.T) {
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer pool.Close()

	cfg := &appconfig.Config{
		CronSecret:        "cron-secret",
		AdminJWTSecret:    "admin-secret",
		WhatsAppBridgeURL: "http://bridge:3000",
		BatchLimit:        20,
		CronBatchLimit:    50,
		MaxRetries:        3,
		ReminderLeadTimes: []time.Duration{24 * time.Hour},
	}
	logger := logging.New("error")
	pipeline, err := bootstrap.BuildDispatch(cfg, bootstrap.DispatchDeps{DB: pool}, "cron", logger)
	if err != nil {
		t.Fatalf("build dispatch: %v", err)
	}

	handler, _ := setupMetrics()
	rc := buildRouterConfig(cfg, pipeline, handler, httpmiddleware.NewRateLimiter(1, 1), func(context.Context) error { return nil }, logger)

	if rc.CronReminders == nil || rc.MetricsHandler == nil || rc.CronLimiter == nil {
		t.Fatalf("expected cron, metrics and limiter to be set")
	}
	if len(rc.AdminRoutes) != 2 {
		t.Fatalf("expected reminders and whatsapp admin routes, got %d", len(rc.AdminRoutes))
	}
	if rc.CronSecret != "cron-secret" || rc.AdminAuthSecret != "admin-secret" {
		t.Fatalf("secrets not propagated")
	}
}
