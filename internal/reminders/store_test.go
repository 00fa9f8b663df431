package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobRowColumns = []string{
	"id", "organization_id", "appointment_id", "lead_minutes", "dedupe_key",
	"recipient_phone", "recipient_name", "message", "scheduled_at", "status", "attempts",
	"last_error", "claimed_at", "sent_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func TestStore_CreateJob(t *testing.T) {
	store, mock := newMockStore(t)
	job := &Job{
		TenantID:       "org-1",
		AppointmentID:  "appt-1",
		LeadTime:       2 * time.Hour,
		RecipientPhone: "5550001",
		RecipientName:  "Ana",
		Message:        "hi",
		ScheduledAt:    testNow,
	}

	mock.ExpectQuery("INSERT INTO reminder_jobs").
		WithArgs(pgxmock.AnyArg(), "org-1", "appt-1", 120, "appt-1:120m",
			"5550001", "Ana", "hi", testNow, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))

	created, err := store.CreateJob(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateJobConflictIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO reminder_jobs").
		WithArgs(pgxmock.AnyArg(), "org-1", "appt-1", 1440, "appt-1:1440m",
			"5550001", "", "", testNow, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	created, err := store.CreateJob(context.Background(), &Job{
		TenantID: "org-1", AppointmentID: "appt-1", LeadTime: 24 * time.Hour,
		RecipientPhone: "5550001", ScheduledAt: testNow,
	})
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateJobError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO reminder_jobs").WillReturnError(errors.New("boom"))

	_, err := store.CreateJob(context.Background(), &Job{TenantID: "org-1", AppointmentID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminders: create job")
}

func TestStore_ClaimDueReturnsOldestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	older, newer := uuid.New(), uuid.New()
	claimedAt := testNow

	rows := pgxmock.NewRows(jobRowColumns).
		AddRow(newer, "org-1", "appt-2", 120, "appt-2:120m", "5550002", "Bea", "m2",
			testNow.Add(-time.Minute), "processing", 0, "", &claimedAt, nil, testNow, testNow).
		AddRow(older, "org-1", "appt-1", 1440, "appt-1:1440m", "5550001", "Ana", "m1",
			testNow.Add(-time.Hour), "processing", 1, "timeout", &claimedAt, nil, testNow, testNow)
	mock.ExpectQuery("UPDATE reminder_jobs").
		WithArgs(5, testNow).
		WillReturnRows(rows)

	jobs, err := store.ClaimDue(context.Background(), 5, testNow)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, older, jobs[0].ID)
	assert.Equal(t, 24*time.Hour, jobs[0].LeadTime)
	assert.Equal(t, StatusProcessing, jobs[0].Status)
	assert.Equal(t, "timeout", jobs[0].LastError)
	assert.Equal(t, newer, jobs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClaimDueZeroLimit(t *testing.T) {
	store, mock := newMockStore(t)
	jobs, err := store.ClaimDue(context.Background(), 0, testNow)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkTransitions(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	ctx := context.Background()

	mock.ExpectExec("SET status = 'sent'").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = 'pending'").
		WithArgs(id, testNow.Add(time.Minute), "timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = 'failed'").
		WithArgs(id, "timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkSent(ctx, id, testNow))
	require.NoError(t, store.MarkRetry(ctx, id, testNow.Add(time.Minute), "timeout"))
	require.NoError(t, store.MarkFailed(ctx, id, "timeout"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkOnNonProcessingJob(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	ctx := context.Background()

	mock.ExpectExec("SET status = 'sent'").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("SET status = 'failed'").
		WithArgs(id, "x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, store.MarkSent(ctx, id, testNow), ErrNotClaimed)
	assert.ErrorIs(t, store.MarkFailed(ctx, id, "x"), ErrNotClaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReclaimStale(t *testing.T) {
	store, mock := newMockStore(t)
	requeued, failed := uuid.New(), uuid.New()
	olderThan := testNow.Add(-10 * time.Minute)
	policy := Policy{MaxRetries: 3, Backoff: time.Minute}

	rows := pgxmock.NewRows(jobRowColumns).
		AddRow(requeued, "org-1", "appt-1", 120, "appt-1:120m", "5550001", "Ana", "m",
			testNow.Add(time.Minute), "pending", 1, ClaimExpiredError, nil, nil, testNow, testNow).
		AddRow(failed, "org-1", "appt-2", 120, "appt-2:120m", "5550002", "Bea", "m",
			testNow.Add(-time.Hour), "failed", 3, ClaimExpiredError, nil, nil, testNow, testNow)
	mock.ExpectQuery("UPDATE reminder_jobs").
		WithArgs(olderThan, testNow, 3, testNow.Add(time.Minute), ClaimExpiredError).
		WillReturnRows(rows)

	out, err := store.ReclaimStale(context.Background(), olderThan, testNow, policy)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Requeued)
	assert.False(t, out[1].Requeued)
	assert.Equal(t, failed, out[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListByTenantWithStatus(t *testing.T) {
	store, mock := newMockStore(t)
	sentAt := testNow
	rows := pgxmock.NewRows(jobRowColumns).
		AddRow(uuid.New(), "org-1", "appt-1", 120, "appt-1:120m", "5550001", "Ana", "m",
			testNow, "sent", 1, "", nil, &sentAt, testNow, testNow)
	mock.ExpectQuery("SELECT (.+) FROM reminder_jobs").
		WithArgs("org-1", "sent", 50).
		WillReturnRows(rows)

	status := StatusSent
	jobs, err := store.ListByTenant(context.Background(), "org-1", &status, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].SentAt)
	assert.True(t, jobs[0].SentAt.Equal(sentAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Stats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("COUNT").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"pending", "processing", "sent", "failed"}).AddRow(int64(4), int64(1), int64(10), int64(2)))

	stats, err := store.Stats(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 4, Processing: 1, Sent: 10, Failed: 2}, *stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentStore_ListUpcoming(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := testNow.Add(3 * time.Hour)
	mock.ExpectQuery("FROM appointments a").
		WithArgs(testNow, testNow.Add(24*time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "organization_id", "name", "phone", "procedure", "professional", "scheduled_at", "status"}).
			AddRow("appt-1", "org-1", "Ana Souza", "5550001", "Botox", "Dr. Lima", at, "confirmed"))

	appts, err := NewAppointmentStore(mock).ListUpcoming(context.Background(), testNow, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "org-1", appts[0].TenantID)
	assert.True(t, appts[0].ScheduledAt.Equal(at))
	require.NoError(t, mock.ExpectationsWereMet())
}
