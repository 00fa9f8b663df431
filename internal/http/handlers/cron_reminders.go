package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

type reminderDispatcher interface {
	RunOnce(ctx context.Context, limit int) (reminders.Summary, error)
}

type reminderProducer interface {
	Produce(ctx context.Context, now time.Time) (reminders.ProduceResult, error)
}

// CronRemindersConfig wires the scheduler-triggered dispatch endpoint.
type CronRemindersConfig struct {
	Dispatcher reminderDispatcher
	// Producer is optional; when set each invocation first creates due jobs.
	Producer   reminderProducer
	BatchLimit int
	Logger     *logging.Logger
}

// CronResponse is the JSON body returned to the scheduler.
type CronResponse struct {
	Success bool   `json:"success"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// CronRemindersHandler runs one bounded dispatch pass per request. Auth is
// enforced by middleware.CronSecret in front of it.
type CronRemindersHandler struct {
	dispatcher reminderDispatcher
	producer   reminderProducer
	batchLimit int
	logger     *logging.Logger
	now        func() time.Time
}

func NewCronRemindersHandler(cfg CronRemindersConfig) *CronRemindersHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	return &CronRemindersHandler{
		dispatcher: cfg.Dispatcher,
		producer:   cfg.Producer,
		batchLimit: cfg.BatchLimit,
		logger:     cfg.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *CronRemindersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, resp := h.Run(r.Context())
	writeJSON(w, status, resp)
}

// Run performs one pass and maps the outcome to an HTTP status. Failed counts
// every claimed job that was not sent in this pass. The pass is detached from
// ctx cancellation so claimed jobs are always resolved.
func (h *CronRemindersHandler) Run(ctx context.Context) (status int, resp CronResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("cron reminders: panic", "panic", fmt.Sprint(rec))
			status = http.StatusInternalServerError
			resp = CronResponse{Success: false, Error: fmt.Sprintf("dispatch panicked: %v", rec)}
		}
	}()
	if h.dispatcher == nil {
		return http.StatusInternalServerError, CronResponse{Error: "dispatcher not configured"}
	}
	batchCtx := context.WithoutCancel(ctx)

	if h.producer != nil {
		if res, err := h.producer.Produce(batchCtx, h.now()); err != nil {
			h.logger.Error("cron reminders: produce failed", "error", err)
		} else if res.Created > 0 {
			h.logger.Info("cron reminders: jobs produced", "created", res.Created, "skipped", res.Skipped)
		}
	}

	summary, err := h.dispatcher.RunOnce(batchCtx, h.batchLimit)
	if err != nil {
		h.logger.Error("cron reminders: dispatch failed", "error", err)
		return http.StatusInternalServerError, CronResponse{Error: err.Error()}
	}
	h.logger.Info("cron reminders: pass complete",
		"claimed", summary.Claimed, "sent", summary.Sent, "not_sent", summary.NotSent())
	return http.StatusOK, CronResponse{Success: true, Sent: summary.Sent, Failed: summary.NotSent()}
}
