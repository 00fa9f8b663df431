package reminders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ConcurrentClaimsHandOutJobOnce(t *testing.T) {
	store := NewMemoryStore()
	job := seedJob(t, store, "org-1", "appt-1", "5550001", testNow)

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			jobs, err := store.ClaimDue(context.Background(), 10, testNow)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if len(jobs) > 0 {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	got, _ := store.Get(job.ID)
	assert.Equal(t, StatusProcessing, got.Status)
}

func TestMemoryStore_CreateJobDedupes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first := &Job{TenantID: "org-1", AppointmentID: "appt-1", LeadTime: 2 * time.Hour, ScheduledAt: testNow}
	created, err := store.CreateJob(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "appt-1:120m", first.DedupeKey)

	dup := &Job{TenantID: "org-1", AppointmentID: "appt-1", LeadTime: 2 * time.Hour, ScheduledAt: testNow}
	created, err = store.CreateJob(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	otherTenant := &Job{TenantID: "org-2", AppointmentID: "appt-1", LeadTime: 2 * time.Hour, ScheduledAt: testNow}
	created, err = store.CreateJob(ctx, otherTenant)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, store.Jobs(), 2)
}

func TestMemoryStore_ReserveBlocksCreation(t *testing.T) {
	store := NewMemoryStore()
	store.Reserve("org-1", "appt-1")
	created, err := store.CreateJob(context.Background(), &Job{TenantID: "org-1", AppointmentID: "appt-1", DedupeKey: "appt-1"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryStore_TerminalStatesDoNotMove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := seedJob(t, store, "org-1", "appt-1", "5550001", testNow)

	_, err := store.ClaimDue(ctx, 1, testNow)
	require.NoError(t, err)
	require.NoError(t, store.MarkSent(ctx, job.ID, testNow))

	assert.ErrorIs(t, store.MarkSent(ctx, job.ID, testNow), ErrNotClaimed)
	assert.ErrorIs(t, store.MarkRetry(ctx, job.ID, testNow.Add(time.Minute), "late"), ErrNotClaimed)
	assert.ErrorIs(t, store.MarkFailed(ctx, job.ID, "late"), ErrNotClaimed)

	got, _ := store.Get(job.ID)
	assert.Equal(t, StatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.Status.Terminal())
}

func TestMemoryStore_StuckProcessingNeedsReclaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := seedJob(t, store, "org-1", "appt-1", "5550001", testNow)

	claimed, err := store.ClaimDue(ctx, 1, testNow)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	// The claiming worker dies here.

	later := testNow.Add(time.Hour)
	again, err := store.ClaimDue(ctx, 10, later)
	require.NoError(t, err)
	assert.Empty(t, again, "a processing job must never be claimed twice")

	policy := Policy{MaxRetries: 3, Backoff: time.Minute}
	reclaimed, err := store.ReclaimStale(ctx, later.Add(-10*time.Minute), later, policy)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.True(t, reclaimed[0].Requeued)

	got, _ := store.Get(job.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, ClaimExpiredError, got.LastError)
	assert.True(t, got.ScheduledAt.Equal(later.Add(time.Minute)))

	again, err = store.ClaimDue(ctx, 10, later.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestMemoryStore_ReclaimExhaustedFails(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := seedJob(t, store, "org-1", "appt-1", "5550001", testNow)
	_, err := store.ClaimDue(ctx, 1, testNow)
	require.NoError(t, err)

	reclaimed, err := store.ReclaimStale(ctx, testNow.Add(time.Second), testNow.Add(time.Minute), Policy{MaxRetries: 1, Backoff: time.Minute})
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.False(t, reclaimed[0].Requeued)
	got, _ := store.Get(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestMemoryStore_ReclaimIgnoresFreshClaims(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedJob(t, store, "org-1", "appt-1", "5550001", testNow)
	_, err := store.ClaimDue(ctx, 1, testNow)
	require.NoError(t, err)

	reclaimed, err := store.ReclaimStale(ctx, testNow.Add(-time.Minute), testNow, DefaultPolicy())
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}
