package reminders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, organization_id, appointment_id, lead_minutes, dedupe_key,
	recipient_phone, recipient_name, message, scheduled_at, status, attempts,
	COALESCE(last_error, ''), claimed_at, sent_at, created_at, updated_at`

// Store persists reminder jobs in reminder_jobs.
type Store struct {
	db DB
}

var _ Queue = (*Store)(nil)

// NewStore creates a Postgres-backed job store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a pending job unless one already exists for the same
// (tenant, dedupe key). created is false when the insert was a no-op.
func (s *Store) CreateJob(ctx context.Context, job *Job) (bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.DedupeKey == "" {
		job.DedupeKey = DedupeKey(job.AppointmentID, job.LeadTime)
	}
	now := time.Now().UTC()
	job.Status = StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO reminder_jobs (id, organization_id, appointment_id, lead_minutes, dedupe_key,
			recipient_phone, recipient_name, message, scheduled_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', 0, $10, $10)
		ON CONFLICT (organization_id, dedupe_key) DO NOTHING
		RETURNING id`,
		job.ID, job.TenantID, job.AppointmentID, int(job.LeadTime/time.Minute), job.DedupeKey,
		job.RecipientPhone, job.RecipientName, job.Message, job.ScheduledAt, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reminders: create job: %w", err)
	}
	return true, nil
}

// ClaimDue atomically moves up to limit due pending jobs to processing and
// returns them oldest first. Rows locked by a concurrent claimer are skipped,
// so each job is handed to exactly one caller.
func (s *Store) ClaimDue(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_jobs
		SET status = 'processing', claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM reminder_jobs
			WHERE status = 'pending' AND scheduled_at <= $2
			ORDER BY scheduled_at ASC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit, now)
	if err != nil {
		return nil, fmt.Errorf("reminders: claim due: %w", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].ScheduledAt.Equal(jobs[j].ScheduledAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
	})
	return jobs, nil
}

// MarkSent transitions processing -> sent.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'sent', sent_at = $2, attempts = attempts + 1, last_error = NULL, updated_at = $2
		WHERE id = $1 AND status = 'processing'`, id, sentAt)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: mark sent %s: %w", id, ErrNotClaimed)
	}
	return nil
}

// MarkRetry transitions processing -> pending with a deferred schedule.
func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, next time.Time, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'pending', scheduled_at = $2, attempts = attempts + 1, last_error = $3,
		    claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id, next, lastErr)
	if err != nil {
		return fmt.Errorf("reminders: mark retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: mark retry %s: %w", id, ErrNotClaimed)
	}
	return nil
}

// MarkFailed transitions processing -> failed.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id, lastErr)
	if err != nil {
		return fmt.Errorf("reminders: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: mark failed %s: %w", id, ErrNotClaimed)
	}
	return nil
}

// Reclaimed describes a stale processing job returned by ReclaimStale.
type Reclaimed struct {
	Job
	Requeued bool
}

// ReclaimStale resolves jobs stuck in processing since before olderThan.
// Each counts as a failed attempt: it is requeued at now+backoff, or failed
// once the policy has no attempts left.
func (s *Store) ReclaimStale(ctx context.Context, olderThan, now time.Time, policy Policy) ([]Reclaimed, error) {
	policy = policy.normalized()
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 < $3 THEN 'pending' ELSE 'failed' END,
		    scheduled_at = CASE WHEN attempts + 1 < $3 THEN $4 ELSE scheduled_at END,
		    last_error = $5,
		    claimed_at = NULL,
		    updated_at = $2
		WHERE id IN (
			SELECT id FROM reminder_jobs
			WHERE status = 'processing' AND claimed_at < $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		olderThan, now, policy.MaxRetries, now.Add(policy.Backoff), ClaimExpiredError)
	if err != nil {
		return nil, fmt.Errorf("reminders: reclaim stale: %w", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Reclaimed, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Reclaimed{Job: j, Requeued: j.Status == StatusPending})
	}
	return out, nil
}

// ClaimExpiredError is the last_error recorded for reclaimed jobs.
const ClaimExpiredError = "claim expired"

// ListByTenant returns a tenant's jobs, optionally filtered by status.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, status *JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = s.db.Query(ctx, `
			SELECT `+jobColumns+`
			FROM reminder_jobs
			WHERE organization_id = $1 AND status = $2
			ORDER BY scheduled_at DESC LIMIT $3`, tenantID, string(*status), limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT `+jobColumns+`
			FROM reminder_jobs
			WHERE organization_id = $1
			ORDER BY scheduled_at DESC LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("reminders: list by tenant: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Stats returns job counts per status for a tenant.
func (s *Store) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	row := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM reminder_jobs
		WHERE organization_id = $1`, tenantID)

	var stats Stats
	if err := row.Scan(&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed); err != nil {
		return nil, fmt.Errorf("reminders: stats: %w", err)
	}
	return &stats, nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var result []Job
	for rows.Next() {
		var (
			j           Job
			leadMinutes int
			status      string
		)
		err := rows.Scan(
			&j.ID, &j.TenantID, &j.AppointmentID, &leadMinutes, &j.DedupeKey,
			&j.RecipientPhone, &j.RecipientName, &j.Message, &j.ScheduledAt,
			&status, &j.Attempts, &j.LastError,
			&j.ClaimedAt, &j.SentAt, &j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("reminders: scan job: %w", err)
		}
		j.LeadTime = time.Duration(leadMinutes) * time.Minute
		j.Status = JobStatus(status)
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: iterate jobs: %w", err)
	}
	return result, nil
}
