package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-reminders/internal/observability/metrics"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

// JobCreator inserts a job unless its dedupe key already exists.
type JobCreator interface {
	CreateJob(ctx context.Context, job *Job) (bool, error)
}

// ProduceResult counts the outcome of one production pass.
type ProduceResult struct {
	Considered int `json:"considered"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Producer derives reminder jobs from upcoming appointments.
type Producer struct {
	appointments AppointmentSource
	settings     SettingsProvider
	jobs         JobCreator
	leadTimes    []time.Duration
	dedupeKey    func(Appointment, time.Duration) string
	location     *time.Location
	metrics      *metrics.DispatchMetrics
	logger       *logging.Logger
}

// NewProducer creates a producer. Appointments are listed as far ahead as
// any tenant lead time can reach; tenant settings choose which windows apply.
func NewProducer(appointments AppointmentSource, settings SettingsProvider, jobs JobCreator, leadTimes []time.Duration, logger *logging.Logger) *Producer {
	if logger == nil {
		logger = logging.Default()
	}
	if len(leadTimes) == 0 {
		leadTimes = DefaultLeadTimes
	}
	return &Producer{
		appointments: appointments,
		settings:     settings,
		jobs:         jobs,
		leadTimes:    leadTimes,
		dedupeKey: func(a Appointment, lead time.Duration) string {
			return DedupeKey(a.ID, lead)
		},
		location: time.UTC,
		logger:   logger,
	}
}

// WithDedupeKey overrides how (appointment, lead time) pairs are keyed.
func (p *Producer) WithDedupeKey(fn func(Appointment, time.Duration) string) *Producer {
	if fn != nil {
		p.dedupeKey = fn
	}
	return p
}

// WithLocation sets the time zone used to render times in messages.
func (p *Producer) WithLocation(loc *time.Location) *Producer {
	if loc != nil {
		p.location = loc
	}
	return p
}

func (p *Producer) WithMetrics(m *metrics.DispatchMetrics) *Producer {
	p.metrics = m
	return p
}

// InWindow reports whether now lies strictly inside (at-lead, at).
func InWindow(at time.Time, lead time.Duration, now time.Time) bool {
	return now.After(at.Add(-lead)) && now.Before(at)
}

// Produce creates one pending job per open (appointment, lead time) window.
// Re-running it inside the same window creates nothing new.
func (p *Producer) Produce(ctx context.Context, now time.Time) (ProduceResult, error) {
	var res ProduceResult
	horizon := maxDuration(append([]time.Duration{MaxLeadTime}, p.leadTimes...))
	appts, err := p.appointments.ListUpcoming(ctx, now, horizon)
	if err != nil {
		return res, fmt.Errorf("reminders: produce: %w", err)
	}

	cache := make(map[string]*Settings)
	for _, a := range appts {
		if a.PatientPhone == "" {
			continue
		}
		settings, ok := p.tenantSettings(ctx, cache, a.TenantID)
		if !ok || !settings.Enabled {
			continue
		}
		for _, lead := range settings.LeadTimes {
			if !InWindow(a.ScheduledAt, lead, now) {
				continue
			}
			res.Considered++
			job := &Job{
				TenantID:       a.TenantID,
				AppointmentID:  a.ID,
				LeadTime:       lead,
				DedupeKey:      p.dedupeKey(a, lead),
				RecipientPhone: a.PatientPhone,
				RecipientName:  a.PatientName,
				Message:        RenderMessage(a, *settings, p.location),
				ScheduledAt:    a.ScheduledAt.Add(-lead),
			}
			created, err := p.jobs.CreateJob(ctx, job)
			if err != nil {
				res.Errors++
				p.logger.Error("reminders: create job failed",
					"org_id", a.TenantID, "appointment_id", a.ID, "error", err)
				continue
			}
			if !created {
				res.Skipped++
				continue
			}
			res.Created++
			p.logger.Info("reminders: job created",
				"job_id", job.ID, "org_id", a.TenantID, "appointment_id", a.ID,
				"lead_time", lead.String())
		}
	}

	p.metrics.ObserveProduced("created", res.Created)
	p.metrics.ObserveProduced("skipped", res.Skipped)
	p.metrics.ObserveProduced("error", res.Errors)
	return res, nil
}

func (p *Producer) tenantSettings(ctx context.Context, cache map[string]*Settings, tenantID string) (*Settings, bool) {
	if s, ok := cache[tenantID]; ok {
		return s, s != nil
	}
	s, err := p.settings.Get(ctx, tenantID)
	if err != nil {
		p.logger.Warn("reminders: settings unavailable, skipping tenant", "org_id", tenantID, "error", err)
		cache[tenantID] = nil
		return nil, false
	}
	cache[tenantID] = &s
	return &s, true
}

func maxDuration(ds []time.Duration) time.Duration {
	var longest time.Duration
	for _, d := range ds {
		if d > longest {
			longest = d
		}
	}
	return longest
}
