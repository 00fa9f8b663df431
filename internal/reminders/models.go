// Package reminders turns upcoming appointments into WhatsApp reminder jobs
// and dispatches them with bounded retries.
package reminders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus tracks the lifecycle of a reminder job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusSent       JobStatus = "sent"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// ParseJobStatus validates a status filter value.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("reminders: unknown job status %q", s)
	}
}

// LogStatus is the outcome recorded in the send log.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
	LogRetry   LogStatus = "retry"
	LogError   LogStatus = "error"
)

// ErrNotClaimed is returned when a state update finds the job no longer in processing.
var ErrNotClaimed = errors.New("reminders: job not in processing state")

// Job is one planned outbound reminder.
type Job struct {
	ID             uuid.UUID     `json:"id"`
	TenantID       string        `json:"organization_id"`
	AppointmentID  string        `json:"appointment_id"`
	LeadTime       time.Duration `json:"lead_time"`
	DedupeKey      string        `json:"dedupe_key"`
	RecipientPhone string        `json:"recipient_phone"`
	RecipientName  string        `json:"recipient_name"`
	Message        string        `json:"message"`
	ScheduledAt    time.Time     `json:"scheduled_at"`
	Status         JobStatus     `json:"status"`
	Attempts       int           `json:"attempts"`
	LastError      string        `json:"last_error,omitempty"`
	ClaimedAt      *time.Time    `json:"claimed_at,omitempty"`
	SentAt         *time.Time    `json:"sent_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// LogEntry is one row of the append-only send audit trail.
type LogEntry struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"organization_id"`
	JobID     uuid.UUID `json:"job_id"`
	Phone     string    `json:"phone"`
	Status    LogStatus `json:"status"`
	Error     string    `json:"error_message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Appointment is the read-only view of a scheduled visit.
type Appointment struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"organization_id"`
	PatientName      string    `json:"patientName"`
	PatientPhone     string    `json:"patientPhone,omitempty"`
	ProcedureName    string    `json:"procedureName"`
	ProfessionalName string    `json:"professionalName,omitempty"`
	ScheduledAt      time.Time `json:"scheduledDate"`
	Status           string    `json:"status,omitempty"`
}

// Settings are a tenant's reminder preferences.
type Settings struct {
	Enabled       bool            `json:"enabled"`
	LeadTimes     []time.Duration `json:"lead_times"`
	SenderName    string          `json:"sender_name"`
	CustomMessage string          `json:"custom_message,omitempty"`
}

// Summary counts the outcomes of one dispatch pass.
type Summary struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// NotSent counts claimed jobs that did not go out in this pass.
func (s Summary) NotSent() int {
	return s.Retried + s.Failed + s.Errored
}

// Stats holds per-tenant job counts for the admin dashboard.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// DedupeKey identifies one (appointment, window) pair.
func DedupeKey(appointmentID string, lead time.Duration) string {
	return fmt.Sprintf("%s:%dm", appointmentID, int64(lead/time.Minute))
}
