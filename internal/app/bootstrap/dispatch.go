package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/observability/metrics"
	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/internal/whatsapp"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

// DispatchDeps are the connections shared by every entrypoint.
type DispatchDeps struct {
	DB      reminders.DB
	SQL     *sql.DB
	Redis   *redis.Client
	Metrics *metrics.DispatchMetrics
}

// Dispatch is the wired reminder pipeline for one process.
type Dispatch struct {
	Jobs     *reminders.Store
	Logs     *reminders.SendLog
	Settings reminders.SettingsProvider
	// SettingsStore is nil when Redis is unavailable; settings are then read-only defaults.
	SettingsStore *reminders.SettingsStore
	Registry      *whatsapp.Registry
	Bridge        *whatsapp.BridgeClient
	Policy        reminders.Policy
	Dispatcher    *reminders.Dispatcher
	Producer      *reminders.Producer
}

// BuildDispatch wires the job store, send log, WhatsApp registry, dispatcher
// and producer. source labels log lines and metrics ("worker", "cron", "api").
func BuildDispatch(cfg *appconfig.Config, deps DispatchDeps, source string, logger *logging.Logger) (*Dispatch, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("bootstrap: database is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bridge, err := whatsapp.NewBridgeClient(whatsapp.BridgeConfig{
		BaseURL: cfg.WhatsAppBridgeURL,
		Token:   cfg.WhatsAppBridgeToken,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	registry := whatsapp.NewRegistry(bridge, whatsapp.NewSessionStore(deps.DB), logger)

	out := &Dispatch{
		Jobs:     reminders.NewStore(deps.DB),
		Registry: registry,
		Bridge:   bridge,
		Policy:   reminders.Policy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
	}

	defaults := reminders.DefaultSettings(cfg.ReminderLeadTimes, cfg.ReminderSenderName)
	if deps.Redis != nil {
		out.SettingsStore = reminders.NewSettingsStore(deps.Redis, defaults)
		out.Settings = out.SettingsStore
	} else {
		out.Settings = reminders.StaticSettings(defaults)
	}

	out.Dispatcher = reminders.NewDispatcher(out.Jobs, registry, logger).
		WithPolicy(out.Policy).
		WithBatchLimit(cfg.BatchLimit).
		WithMessageDelay(cfg.MessageDelay).
		WithSource(source).
		WithMetrics(deps.Metrics)
	if deps.SQL != nil {
		out.Logs = reminders.NewSendLog(deps.SQL)
		out.Dispatcher.WithLogAppender(out.Logs)
	}

	out.Producer = reminders.NewProducer(
		reminders.NewAppointmentStore(deps.DB),
		out.Settings,
		out.Jobs,
		cfg.ReminderLeadTimes,
		logger,
	).WithLocation(loc).WithMetrics(deps.Metrics)

	return out, nil
}

// WatchSessions streams bridge status events into the registry until ctx ends.
func (d *Dispatch) WatchSessions(ctx context.Context) {
	go d.Bridge.Watch(ctx, func(upd whatsapp.StatusUpdate) {
		d.Registry.Apply(ctx, upd)
	})
}

// AdminHandler builds the reminders dashboard handler. The logs and settings
// endpoints answer 503 when their backing store is missing.
func (d *Dispatch) AdminHandler(logger *logging.Logger) *reminders.Handler {
	h := reminders.NewHandler(d.Jobs, nil, nil, logger)
	if d.Logs != nil {
		h.WithSendLog(d.Logs)
	}
	if d.SettingsStore != nil {
		h.WithSettings(d.SettingsStore)
	}
	return h
}
