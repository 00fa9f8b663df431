package reminders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AppointmentSource lists appointments that start within (now, now+horizon].
type AppointmentSource interface {
	ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]Appointment, error)
}

// AppointmentStore reads the clinic calendar tables.
type AppointmentStore struct {
	db DB
}

// NewAppointmentStore creates a Postgres-backed appointment source.
func NewAppointmentStore(db DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

// ListUpcoming returns scheduled or confirmed appointments with a patient
// phone, soonest first.
func (s *AppointmentStore) ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id::text, a.organization_id::text, p.name, COALESCE(p.phone, ''),
		       COALESCE(pr.name, ''), COALESCE(pf.name, ''), a.scheduled_at, a.status
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		LEFT JOIN procedures pr ON pr.id = a.procedure_id
		LEFT JOIN professionals pf ON pf.id = a.professional_id
		WHERE a.status IN ('scheduled', 'confirmed')
		  AND a.scheduled_at > $1 AND a.scheduled_at <= $2
		  AND COALESCE(p.phone, '') <> ''
		ORDER BY a.scheduled_at ASC`, now, now.Add(horizon))
	if err != nil {
		return nil, fmt.Errorf("reminders: list upcoming appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.PatientName, &a.PatientPhone,
			&a.ProcedureName, &a.ProfessionalName, &a.ScheduledAt, &a.Status); err != nil {
			return nil, fmt.Errorf("reminders: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: iterate appointments: %w", err)
	}
	return out, nil
}

// StaticAppointments serves a fixed in-memory list.
type StaticAppointments []Appointment

func (s StaticAppointments) ListUpcoming(_ context.Context, now time.Time, horizon time.Duration) ([]Appointment, error) {
	end := now.Add(horizon)
	var out []Appointment
	for _, a := range s {
		if !eligibleStatus(a.Status) {
			continue
		}
		if a.ScheduledAt.After(now) && !a.ScheduledAt.After(end) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}

func eligibleStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "scheduled", "confirmed":
		return true
	default:
		return false
	}
}
