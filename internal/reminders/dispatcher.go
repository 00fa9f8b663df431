package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-reminders/internal/observability/metrics"
	"github.com/wolfman30/clinic-reminders/internal/whatsapp"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.reminders")

const (
	DefaultBatchLimit   = 20
	DefaultMessageDelay = 500 * time.Millisecond
)

// Queue is the job source/sink the dispatcher drives. The Postgres store
// and the in-memory store both implement it.
type Queue interface {
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]Job, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string) error
}

// LogAppender records send outcomes. Failures never affect dispatch.
type LogAppender interface {
	Append(ctx context.Context, entry LogEntry) error
}

// Channel is the messaging capability used to deliver reminders. Send
// returns whatsapp.ErrNotConnected when the tenant's session is not usable.
type Channel interface {
	Send(ctx context.Context, tenantID, phone, text string) error
}

// Dispatcher claims due jobs, sends them and resolves each one to
// sent, pending (retry) or failed.
type Dispatcher struct {
	queue      Queue
	channel    Channel
	logs       LogAppender
	policy     Policy
	batchLimit int
	delay      time.Duration
	source     string
	metrics    *metrics.DispatchMetrics
	logger     *logging.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)
}

func NewDispatcher(queue Queue, channel Channel, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		queue:      queue,
		channel:    channel,
		policy:     DefaultPolicy(),
		batchLimit: DefaultBatchLimit,
		delay:      DefaultMessageDelay,
		source:     "worker",
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepCtx,
	}
}

func (d *Dispatcher) WithLogAppender(l LogAppender) *Dispatcher {
	d.logs = l
	return d
}

func (d *Dispatcher) WithPolicy(p Policy) *Dispatcher {
	d.policy = p.normalized()
	return d
}

func (d *Dispatcher) WithBatchLimit(n int) *Dispatcher {
	if n > 0 {
		d.batchLimit = n
	}
	return d
}

// WithMessageDelay sets the pause between consecutive sends. Zero disables it.
func (d *Dispatcher) WithMessageDelay(delay time.Duration) *Dispatcher {
	if delay >= 0 {
		d.delay = delay
	}
	return d
}

// WithSource labels metrics and logs (worker, cron, lambda, simulator).
func (d *Dispatcher) WithSource(source string) *Dispatcher {
	if source != "" {
		d.source = source
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.DispatchMetrics) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

// Policy returns the retry policy in effect.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// RunOnce claims up to limit due jobs (the configured batch limit when
// limit <= 0) and processes them sequentially. Only a claim failure is
// returned; per-job problems become state transitions and log rows.
func (d *Dispatcher) RunOnce(ctx context.Context, limit int) (Summary, error) {
	if limit <= 0 || limit > d.batchLimit {
		limit = d.batchLimit
	}
	ctx, span := tracer.Start(ctx, "reminders.dispatch.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("reminders.source", d.source),
		attribute.Int("reminders.limit", limit),
	)
	started := time.Now()
	defer func() {
		d.metrics.ObserveBatchDuration(d.source, time.Since(started).Seconds())
	}()

	jobs, err := d.queue.ClaimDue(ctx, limit, d.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return Summary{}, fmt.Errorf("reminders: claim due jobs: %w", err)
	}
	summary := Summary{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return summary, nil
	}
	d.metrics.ObserveClaimed(d.source, len(jobs))
	d.logger.Info("reminders: processing claimed jobs", "source", d.source, "count", len(jobs))

	for i := range jobs {
		if i > 0 && d.delay > 0 {
			d.sleep(ctx, d.delay)
		}
		switch d.process(ctx, jobs[i]) {
		case LogSuccess:
			summary.Sent++
		case LogRetry:
			summary.Retried++
		case LogFailed:
			summary.Failed++
		case LogError:
			summary.Errored++
		}
	}

	span.SetAttributes(
		attribute.Int("reminders.sent", summary.Sent),
		attribute.Int("reminders.retried", summary.Retried),
		attribute.Int("reminders.failed", summary.Failed),
		attribute.Int("reminders.errored", summary.Errored),
	)
	d.logger.Info("reminders: batch complete",
		"source", d.source,
		"claimed", summary.Claimed,
		"sent", summary.Sent,
		"retried", summary.Retried,
		"failed", summary.Failed,
		"errored", summary.Errored,
	)
	return summary, nil
}

// process resolves one claimed job. The returned status is the log outcome;
// a panicking send that is retried still counts as LogError.
func (d *Dispatcher) process(ctx context.Context, job Job) LogStatus {
	ctx, span := tracer.Start(ctx, "reminders.dispatch.job")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", job.TenantID),
		attribute.String("reminders.job_id", job.ID.String()),
		attribute.Int("reminders.attempts", job.Attempts),
	)

	sendErr := d.send(ctx, job)
	now := d.now()

	if sendErr == nil {
		if err := d.queue.MarkSent(ctx, job.ID, now); err != nil {
			d.stateWriteFailed(job, "sent", err)
		}
		d.appendLog(ctx, job, LogSuccess, "")
		d.metrics.ObserveOutcome(d.source, string(LogSuccess))
		return LogSuccess
	}

	span.RecordError(sendErr)
	span.SetStatus(codes.Error, "send failed")
	reason := sendErr.Error()
	attempts := job.Attempts + 1

	outcome := LogFailed
	if d.policy.ShouldRetry(attempts) {
		outcome = LogRetry
		next := d.policy.NextAttemptAt(now, job.ScheduledAt)
		if err := d.queue.MarkRetry(ctx, job.ID, next, reason); err != nil {
			d.stateWriteFailed(job, "retry", err)
		}
		d.logger.Warn("reminders: send failed, retry scheduled",
			"job_id", job.ID, "org_id", job.TenantID, "attempts", attempts,
			"next_attempt_at", next, "error", reason)
	} else {
		if err := d.queue.MarkFailed(ctx, job.ID, reason); err != nil {
			d.stateWriteFailed(job, "failed", err)
		}
		d.logger.Error("reminders: send failed permanently",
			"job_id", job.ID, "org_id", job.TenantID, "attempts", attempts, "error", reason)
	}

	var pe *panicError
	if errors.As(sendErr, &pe) {
		d.appendLog(ctx, job, LogError, reason)
		d.metrics.ObserveOutcome(d.source, string(LogError))
		return LogError
	}
	d.appendLog(ctx, job, outcome, reason)
	d.metrics.ObserveOutcome(d.source, string(outcome))
	return outcome
}

// panicError marks a send that blew up instead of returning an error.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("unexpected error sending reminder: %v", e.value)
}

func (d *Dispatcher) send(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	if d.channel == nil {
		return errors.New("whatsapp channel not configured")
	}
	err = d.channel.Send(ctx, job.TenantID, job.RecipientPhone, job.Message)
	if errors.Is(err, whatsapp.ErrNotConnected) {
		return fmt.Errorf("whatsapp not connected for organization %s", job.TenantID)
	}
	return err
}

func (d *Dispatcher) stateWriteFailed(job Job, target string, err error) {
	if errors.Is(err, ErrNotClaimed) {
		d.logger.Warn("reminders: job already resolved", "job_id", job.ID, "target", target)
		return
	}
	d.logger.Error("reminders: state update failed", "job_id", job.ID, "target", target, "error", err)
}

func (d *Dispatcher) appendLog(ctx context.Context, job Job, status LogStatus, reason string) {
	if d.logs == nil {
		return
	}
	entry := LogEntry{
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Phone:     job.RecipientPhone,
		Status:    status,
		Error:     reason,
		CreatedAt: d.now(),
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.Warn("reminders: send log append failed", "job_id", job.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
