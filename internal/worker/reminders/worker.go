package reminderworker

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

type producer interface {
	Produce(ctx context.Context, now time.Time) (reminders.ProduceResult, error)
}

type dispatcher interface {
	RunOnce(ctx context.Context, limit int) (reminders.Summary, error)
}

type reclaimer interface {
	Sweep(ctx context.Context) (int, error)
}

// Worker polls for due reminders, producing new jobs from the calendar and
// dispatching whatever is due on every tick.
type Worker struct {
	producer   producer
	dispatcher dispatcher
	sweeper    reclaimer
	logger     *logging.Logger
	interval   time.Duration
	batchLimit int
	now        func() time.Time
}

func NewWorker(d dispatcher, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		dispatcher: d,
		logger:     logger,
		interval:   30 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithProducer runs p before each dispatch pass.
func (w *Worker) WithProducer(p producer) *Worker {
	w.producer = p
	return w
}

// WithSweeper reclaims stale claims before each dispatch pass.
func (w *Worker) WithSweeper(s reclaimer) *Worker {
	w.sweeper = s
	return w
}

func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *Worker) WithBatchLimit(n int) *Worker {
	if n > 0 {
		w.batchLimit = n
	}
	return w
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	if now != nil {
		w.now = now
	}
	return w
}

// Run blocks until ctx is cancelled. A cycle that is already running when
// ctx is cancelled finishes its batch first.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("reminder worker started", "interval", w.interval.String(), "batch_limit", w.batchLimit)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker stopped")
			return
		case <-ticker.C:
			w.Cycle(ctx)
		}
	}
}

// Cycle runs one produce, sweep and dispatch pass. Errors and panics are
// logged, never returned.
func (w *Worker) Cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("reminder worker: cycle panicked", "panic", fmt.Sprint(r))
		}
	}()
	if w.dispatcher == nil {
		return
	}
	batchCtx := context.WithoutCancel(ctx)

	if w.producer != nil {
		res, err := w.producer.Produce(batchCtx, w.now())
		if err != nil {
			w.logger.Error("reminder worker: produce failed", "error", err)
		} else if res.Created > 0 || res.Errors > 0 {
			w.logger.Info("reminder worker: jobs produced",
				"created", res.Created, "skipped", res.Skipped, "errors", res.Errors)
		}
	}

	if w.sweeper != nil {
		if _, err := w.sweeper.Sweep(batchCtx); err != nil {
			w.logger.Error("reminder worker: sweep failed", "error", err)
		}
	}

	summary, err := w.dispatcher.RunOnce(batchCtx, w.batchLimit)
	if err != nil {
		w.logger.Error("reminder worker: dispatch failed", "error", err)
		return
	}
	if summary.Claimed > 0 {
		w.logger.Info("reminder worker: batch done",
			"claimed", summary.Claimed, "sent", summary.Sent, "retried", summary.Retried,
			"failed", summary.Failed, "errored", summary.Errored)
	}
}
