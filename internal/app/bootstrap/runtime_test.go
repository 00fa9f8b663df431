package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
	if client := BuildRedisClient(context.Background(), nil, nil, false); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestConnectPostgresRequiresURL(t *testing.T) {
	if _, err := ConnectPostgres(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func testDispatchConfig() *appconfig.Config {
	return &appconfig.Config{
		WhatsAppBridgeURL:  "http://bridge:3000",
		BatchLimit:         20,
		MaxRetries:         4,
		ReminderLeadTimes:  []time.Duration{24 * time.Hour},
		ReminderSenderName: "Clínica Sol",
	}
}

func TestBuildDispatchWiresPipeline(t *testing.T) {
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer pool.Close()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	d, err := BuildDispatch(testDispatchConfig(), DispatchDeps{DB: pool, SQL: db, Redis: rdb}, "api", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Dispatcher == nil || d.Producer == nil || d.Registry == nil || d.Logs == nil {
		t.Fatalf("expected wired pipeline, got %+v", d)
	}
	if d.SettingsStore == nil {
		t.Fatalf("expected redis settings store")
	}
	if got := d.Dispatcher.Policy(); got.MaxRetries != 4 {
		t.Fatalf("expected configured retries, got %+v", got)
	}
	s, err := d.Settings.Get(context.Background(), "org-1")
	if err != nil || s.SenderName != "Clínica Sol" || !s.Enabled {
		t.Fatalf("unexpected default settings %+v (err=%v)", s, err)
	}
}

func TestBuildDispatchWithoutRedisUsesDefaults(t *testing.T) {
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer pool.Close()

	d, err := BuildDispatch(testDispatchConfig(), DispatchDeps{DB: pool}, "cron", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SettingsStore != nil || d.Logs != nil {
		t.Fatalf("expected no settings store or send log")
	}
	if _, ok := d.Settings.(reminders.StaticSettings); !ok {
		t.Fatalf("expected static settings, got %T", d.Settings)
	}
}

func TestBuildDispatchValidates(t *testing.T) {
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer pool.Close()

	if _, err := BuildDispatch(nil, DispatchDeps{DB: pool}, "", nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := BuildDispatch(testDispatchConfig(), DispatchDeps{}, "", nil); err == nil {
		t.Fatalf("expected error without database")
	}
	cfg := testDispatchConfig()
	cfg.WhatsAppBridgeURL = ""
	if _, err := BuildDispatch(cfg, DispatchDeps{DB: pool}, "", nil); err == nil {
		t.Fatalf("expected error without bridge url")
	}
	cfg = testDispatchConfig()
	cfg.ReminderTimezone = "Nowhere/Land"
	if _, err := BuildDispatch(cfg, DispatchDeps{DB: pool}, "", nil); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}

func TestAdminHandlerWithoutStores(t *testing.T) {
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer pool.Close()

	d, err := BuildDispatch(testDispatchConfig(), DispatchDeps{DB: pool}, "api", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := chi.NewRouter()
	r.Route("/admin/orgs/{orgID}", d.AdminHandler(nil).RegisterRoutes)

	for _, path := range []string{"/admin/orgs/org-1/reminders/logs", "/admin/orgs/org-1/reminders/settings"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}
