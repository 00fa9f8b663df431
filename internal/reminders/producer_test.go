package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tenantSettings map[string]Settings

func (m tenantSettings) Get(_ context.Context, tenantID string) (Settings, error) {
	s, ok := m[tenantID]
	if !ok {
		return Settings{}, errors.New("redis: connection refused")
	}
	return s, nil
}

func appointment(id, tenant string, at time.Time) Appointment {
	return Appointment{
		ID:               id,
		TenantID:         tenant,
		PatientName:      "Ana Souza",
		PatientPhone:     "+55 11 99999-0000",
		ProcedureName:    "Botox",
		ProfessionalName: "Dr. Lima",
		ScheduledAt:      at,
		Status:           "scheduled",
	}
}

func TestProducer_IdempotentWithinWindow(t *testing.T) {
	store := NewMemoryStore()
	appts := StaticAppointments{appointment("appt-1", "org-1", testNow.Add(20*time.Hour))}
	settings := StaticSettings(DefaultSettings([]time.Duration{24 * time.Hour}, "Clinic"))
	p := NewProducer(appts, settings, store, []time.Duration{24 * time.Hour}, nil)

	res, err := p.Produce(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	res, err = p.Produce(context.Background(), testNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "appt-1:1440m", job.DedupeKey)
	assert.Equal(t, StatusPending, job.Status)
	assert.True(t, job.ScheduledAt.Equal(testNow.Add(-4*time.Hour)))
	assert.Contains(t, job.Message, "Hi Ana")
	assert.Contains(t, job.Message, "Botox with Dr. Lima")
}

func TestProducer_NestedWindowsProduceOneJobEach(t *testing.T) {
	store := NewMemoryStore()
	appts := StaticAppointments{appointment("appt-1", "org-1", testNow.Add(90*time.Minute))}
	leads := []time.Duration{24 * time.Hour, 2 * time.Hour}
	p := NewProducer(appts, StaticSettings(DefaultSettings(leads, "")), store, leads, nil)

	res, err := p.Produce(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	keys := []string{}
	for _, j := range store.Jobs() {
		keys = append(keys, j.DedupeKey)
	}
	assert.ElementsMatch(t, []string{"appt-1:1440m", "appt-1:120m"}, keys)
}

func TestProducer_OutsideWindowCreatesNothing(t *testing.T) {
	store := NewMemoryStore()
	appts := StaticAppointments{appointment("appt-1", "org-1", testNow.Add(30*time.Hour))}
	leads := []time.Duration{24 * time.Hour}
	p := NewProducer(appts, StaticSettings(DefaultSettings(leads, "")), store, []time.Duration{48 * time.Hour}, nil)

	res, err := p.Produce(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, store.Jobs())
}

func TestProducer_TenantLeadTimeBeyondConfiguredOnes(t *testing.T) {
	store := NewMemoryStore()
	appts := StaticAppointments{
		appointment("appt-1", "org-1", testNow.Add(36*time.Hour)),
		appointment("appt-2", "org-2", testNow.Add(160*time.Hour)),
	}
	settings := tenantSettings{
		"org-1": DefaultSettings([]time.Duration{48 * time.Hour}, ""),
		"org-2": DefaultSettings([]time.Duration{MaxLeadTime}, ""),
	}
	p := NewProducer(appts, settings, store, []time.Duration{24 * time.Hour, 2 * time.Hour}, nil)

	res, err := p.Produce(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Considered)
	assert.Equal(t, 2, res.Created)

	keys := []string{}
	for _, j := range store.Jobs() {
		keys = append(keys, j.DedupeKey)
	}
	assert.ElementsMatch(t, []string{"appt-1:2880m", "appt-2:10080m"}, keys)
}

func TestProducer_SkipsDisabledTenantsAndMissingPhones(t *testing.T) {
	store := NewMemoryStore()
	noPhone := appointment("appt-2", "org-1", testNow.Add(time.Hour))
	noPhone.PatientPhone = ""
	appts := StaticAppointments{
		appointment("appt-1", "org-off", testNow.Add(time.Hour)),
		noPhone,
		appointment("appt-3", "org-broken", testNow.Add(time.Hour)),
		appointment("appt-4", "org-1", testNow.Add(time.Hour)),
	}
	off := DefaultSettings(nil, "")
	off.Enabled = false
	settings := tenantSettings{
		"org-off": off,
		"org-1":   DefaultSettings(nil, ""),
	}
	p := NewProducer(appts, settings, store, DefaultLeadTimes, nil)

	res, err := p.Produce(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	for _, j := range store.Jobs() {
		assert.Equal(t, "appt-4", j.AppointmentID)
	}
}

func TestProducer_CustomDedupeKey(t *testing.T) {
	store := NewMemoryStore()
	appts := StaticAppointments{appointment("appt-1", "org-1", testNow.Add(90*time.Minute))}
	leads := []time.Duration{24 * time.Hour, 2 * time.Hour}
	p := NewProducer(appts, StaticSettings(DefaultSettings(leads, "")), store, leads, nil).
		WithDedupeKey(func(a Appointment, _ time.Duration) string { return a.ID })

	res, err := p.Produce(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

type failingSource struct{}

func (failingSource) ListUpcoming(context.Context, time.Time, time.Duration) ([]Appointment, error) {
	return nil, errors.New("db down")
}

func TestProducer_SourceErrorIsReturned(t *testing.T) {
	p := NewProducer(failingSource{}, StaticSettings{}, NewMemoryStore(), nil, nil)
	_, err := p.Produce(context.Background(), testNow)
	assert.Error(t, err)
}

func TestInWindow(t *testing.T) {
	at := testNow.Add(2 * time.Hour)
	assert.True(t, InWindow(at, 2*time.Hour+time.Second, testNow))
	assert.False(t, InWindow(at, 2*time.Hour, testNow), "window start is exclusive")
	assert.False(t, InWindow(at, 24*time.Hour, at), "appointment time is exclusive")
	assert.False(t, InWindow(at, 24*time.Hour, at.Add(time.Minute)))
}

func TestStaticAppointmentsFiltersByHorizonAndStatus(t *testing.T) {
	cancelled := appointment("appt-c", "org-1", testNow.Add(time.Hour))
	cancelled.Status = "cancelled"
	appts := StaticAppointments{
		appointment("appt-late", "org-1", testNow.Add(3*time.Hour)),
		appointment("appt-soon", "org-1", testNow.Add(time.Hour)),
		appointment("appt-past", "org-1", testNow.Add(-time.Hour)),
		appointment("appt-far", "org-1", testNow.Add(48*time.Hour)),
		cancelled,
	}
	got, err := appts.ListUpcoming(context.Background(), testNow, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "appt-soon", got[0].ID)
	assert.Equal(t, "appt-late", got[1].ID)
}
