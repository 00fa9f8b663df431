package reminders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local job store with the same claim semantics
// as Store. It backs the simulator and tests.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*Job
	seq   map[uuid.UUID]int
	byKey map[string]uuid.UUID
	next  int
	now   func() time.Time
}

var _ Queue = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[uuid.UUID]*Job),
		seq:   make(map[uuid.UUID]int),
		byKey: make(map[string]uuid.UUID),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func memKey(tenantID, dedupeKey string) string {
	return tenantID + "|" + dedupeKey
}

// Reserve marks a (tenant, dedupe key) as already handled without creating a job.
func (m *MemoryStore) Reserve(tenantID, dedupeKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[memKey(tenantID, dedupeKey)] = uuid.Nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job *Job) (bool, error) {
	if job.DedupeKey == "" {
		job.DedupeKey = DedupeKey(job.AppointmentID, job.LeadTime)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(job.TenantID, job.DedupeKey)
	if _, exists := m.byKey[key]; exists {
		return false, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := m.now()
	job.Status = StatusPending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	m.seq[job.ID] = m.next
	m.next++
	m.byKey[key] = job.ID
	return true, nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Job
	for _, j := range m.jobs {
		if j.Status == StatusPending && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].ScheduledAt.Equal(due[b].ScheduledAt) {
			return m.seq[due[a].ID] < m.seq[due[b].ID]
		}
		return due[a].ScheduledAt.Before(due[b].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		claimedAt := now
		j.Status = StatusProcessing
		j.ClaimedAt = &claimedAt
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (m *MemoryStore) processing(id uuid.UUID, op string) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusProcessing {
		return nil, fmt.Errorf("reminders: %s %s: %w", op, id, ErrNotClaimed)
	}
	return j, nil
}

func (m *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.processing(id, "mark sent")
	if err != nil {
		return err
	}
	at := sentAt
	j.Status = StatusSent
	j.SentAt = &at
	j.Attempts++
	j.LastError = ""
	j.UpdatedAt = sentAt
	return nil
}

func (m *MemoryStore) MarkRetry(_ context.Context, id uuid.UUID, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.processing(id, "mark retry")
	if err != nil {
		return err
	}
	j.Status = StatusPending
	j.ScheduledAt = next
	j.Attempts++
	j.LastError = lastErr
	j.ClaimedAt = nil
	j.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.processing(id, "mark failed")
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.Attempts++
	j.LastError = lastErr
	j.UpdatedAt = m.now()
	return nil
}

// ReclaimStale mirrors Store.ReclaimStale.
func (m *MemoryStore) ReclaimStale(_ context.Context, olderThan, now time.Time, policy Policy) ([]Reclaimed, error) {
	policy = policy.normalized()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reclaimed
	for _, j := range m.jobs {
		if j.Status != StatusProcessing || j.ClaimedAt == nil || !j.ClaimedAt.Before(olderThan) {
			continue
		}
		j.Attempts++
		j.LastError = ClaimExpiredError
		j.ClaimedAt = nil
		j.UpdatedAt = now
		requeued := policy.ShouldRetry(j.Attempts)
		if requeued {
			j.Status = StatusPending
			j.ScheduledAt = now.Add(policy.Backoff)
		} else {
			j.Status = StatusFailed
		}
		out = append(out, Reclaimed{Job: *j, Requeued: requeued})
	}
	return out, nil
}

// Get returns a copy of a job.
func (m *MemoryStore) Get(id uuid.UUID) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns copies of all jobs in insertion order.
func (m *MemoryStore) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		return m.seq[out[a].ID] < m.seq[out[b].ID]
	})
	return out
}
