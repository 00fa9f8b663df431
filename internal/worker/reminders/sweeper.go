package reminderworker

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

type staleStore interface {
	ReclaimStale(ctx context.Context, olderThan, now time.Time, policy reminders.Policy) ([]reminders.Reclaimed, error)
}

// Sweeper returns jobs whose claim outlived the lease to pending, or fails
// them when they are out of attempts. Each reclaim counts as one attempt.
type Sweeper struct {
	store  staleStore
	logs   reminders.LogAppender
	policy reminders.Policy
	lease  time.Duration
	logger *logging.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper. A non-positive lease disables it.
func NewSweeper(store staleStore, lease time.Duration, policy reminders.Policy, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		store:  store,
		policy: policy,
		lease:  lease,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithLogAppender(l reminders.LogAppender) *Sweeper {
	s.logs = l
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Enabled reports whether a lease is configured.
func (s *Sweeper) Enabled() bool {
	return s != nil && s.lease > 0
}

// Sweep reclaims stale jobs and returns how many were touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() || s.store == nil {
		return 0, nil
	}
	now := s.now()
	reclaimed, err := s.store.ReclaimStale(ctx, now.Add(-s.lease), now, s.policy)
	if err != nil {
		return 0, fmt.Errorf("reminder sweeper: %w", err)
	}
	for _, r := range reclaimed {
		status := reminders.LogFailed
		if r.Requeued {
			status = reminders.LogRetry
		}
		s.logger.Warn("reminder sweeper: stale claim reclaimed",
			"job_id", r.ID, "org_id", r.TenantID, "attempts", r.Attempts, "requeued", r.Requeued)
		if s.logs == nil {
			continue
		}
		entry := reminders.LogEntry{
			TenantID:  r.TenantID,
			JobID:     r.ID,
			Phone:     r.RecipientPhone,
			Status:    status,
			Error:     reminders.ClaimExpiredError,
			CreatedAt: now,
		}
		if err := s.logs.Append(ctx, entry); err != nil {
			s.logger.Warn("reminder sweeper: send log append failed", "job_id", r.ID, "error", err)
		}
	}
	return len(reclaimed), nil
}
