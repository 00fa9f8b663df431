package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SendLog is the append-only audit trail in reminder_send_logs.
type SendLog struct {
	db *sql.DB
}

var _ LogAppender = (*SendLog)(nil)

// NewSendLog creates a send log backed by database/sql.
func NewSendLog(db *sql.DB) *SendLog {
	return &SendLog{db: db}
}

// Append writes one outcome row.
func (l *SendLog) Append(ctx context.Context, e LogEntry) error {
	var jobID any
	if e.JobID != uuid.Nil {
		jobID = e.JobID.String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO reminder_send_logs (organization_id, job_id, phone, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		e.TenantID, jobID, e.Phone, string(e.Status), e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("reminders: append send log: %w", err)
	}
	return nil
}

// ListByTenant returns the newest log rows for a tenant. An empty statuses
// slice returns every outcome.
func (l *SendLog) ListByTenant(ctx context.Context, tenantID string, statuses []LogStatus, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, organization_id, job_id, phone, status, COALESCE(error_message, ''), created_at
		FROM reminder_send_logs
		WHERE organization_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, pq.Array(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list send logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e      LogEntry
			jobID  sql.NullString
			status string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &jobID, &e.Phone, &status, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("reminders: scan send log: %w", err)
		}
		if jobID.Valid {
			if id, err := uuid.Parse(jobID.String); err == nil {
				e.JobID = id
			}
		}
		e.Status = LogStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: iterate send logs: %w", err)
	}
	return out, nil
}

// MemoryLog keeps send log entries in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries []LogEntry
	err     error
}

var _ LogAppender = (*MemoryLog)(nil)

func (m *MemoryLog) Append(_ context.Context, e LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryLog) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.entries...)
}
