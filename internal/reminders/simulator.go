package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-reminders/internal/whatsapp"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

// SimLogEntry records one simulated reminder.
type SimLogEntry struct {
	SessionID        string    `json:"sessionId"`
	PatientName      string    `json:"patientName"`
	PatientPhone     string    `json:"patientPhone"`
	ScheduledDate    time.Time `json:"scheduledDate"`
	SentAt           time.Time `json:"sentAt"`
	Channel          string    `json:"channel"`
	ProfessionalName string    `json:"professionalName,omitempty"`
	MessagePreview   string    `json:"messagePreview"`
}

// SimResult is the outcome of one simulator pass.
type SimResult struct {
	Logs      []SimLogEntry `json:"logs"`
	Triggered []SimLogEntry `json:"triggered"`
	Waiting   int           `json:"waiting"`
}

// Simulator runs the producer and dispatcher against in-memory state for a
// single tenant. Nothing leaves the process: sends go to a simulated channel.
type Simulator struct {
	tenantID string
	delay    time.Duration
	location *time.Location
	logger   *logging.Logger
}

func NewSimulator(tenantID string, logger *logging.Logger) *Simulator {
	if logger == nil {
		logger = logging.Default()
	}
	if tenantID == "" {
		tenantID = "local"
	}
	return &Simulator{tenantID: tenantID, location: time.UTC, logger: logger}
}

// WithMessageDelay sets the pause between simulated sends.
func (s *Simulator) WithMessageDelay(d time.Duration) *Simulator {
	if d >= 0 {
		s.delay = d
	}
	return s
}

func (s *Simulator) WithLocation(loc *time.Location) *Simulator {
	if loc != nil {
		s.location = loc
	}
	return s
}

// Process sends a reminder for every appointment inside the first lead-time
// window that has a phone and no entry in existing. Appointments are keyed by
// id alone, so a second window for the same appointment never fires here.
func (s *Simulator) Process(ctx context.Context, appointments []Appointment, existing []SimLogEntry, settings Settings, now time.Time) (SimResult, error) {
	logs := append([]SimLogEntry(nil), existing...)
	if !settings.Enabled {
		return SimResult{Logs: logs}, nil
	}
	lead := 24 * time.Hour
	if len(settings.LeadTimes) > 0 {
		lead = settings.LeadTimes[0]
	}
	settings.LeadTimes = []time.Duration{lead}

	byID := make(map[string]Appointment, len(appointments))
	scoped := make(StaticAppointments, 0, len(appointments))
	for _, a := range appointments {
		a.TenantID = s.tenantID
		byID[a.ID] = a
		scoped = append(scoped, a)
	}

	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	sent := make(map[string]bool, len(existing))
	for _, e := range existing {
		store.Reserve(s.tenantID, e.SessionID)
		sent[e.SessionID] = true
	}

	producer := NewProducer(scoped, StaticSettings(settings), store, settings.LeadTimes, s.logger).
		WithDedupeKey(func(a Appointment, _ time.Duration) string { return a.ID }).
		WithLocation(s.location)
	produced, err := producer.Produce(ctx, now)
	if err != nil {
		return SimResult{Logs: logs}, fmt.Errorf("reminders: simulate: %w", err)
	}

	transport := &whatsapp.SimulatedTransport{}
	registry := whatsapp.NewSimulatedRegistry(ctx, transport, s.tenantID)
	dispatcher := NewDispatcher(store, registry, s.logger).
		WithSource("simulator").
		WithMessageDelay(s.delay).
		WithBatchLimit(max(produced.Created, 1)).
		WithClock(func() time.Time { return now })
	if _, err := dispatcher.RunOnce(ctx, 0); err != nil {
		return SimResult{Logs: logs}, fmt.Errorf("reminders: simulate: %w", err)
	}

	var triggered []SimLogEntry
	for _, j := range store.Jobs() {
		if j.Status != StatusSent {
			continue
		}
		a := byID[j.AppointmentID]
		entry := SimLogEntry{
			SessionID:        a.ID,
			PatientName:      a.PatientName,
			PatientPhone:     a.PatientPhone,
			ScheduledDate:    a.ScheduledAt,
			SentAt:           now,
			Channel:          "whatsapp",
			ProfessionalName: a.ProfessionalName,
			MessagePreview:   j.Message,
		}
		if j.SentAt != nil {
			entry.SentAt = *j.SentAt
		}
		triggered = append(triggered, entry)
		logs = append(logs, entry)
		sent[a.ID] = true
	}

	waiting := 0
	for _, a := range appointments {
		if a.PatientPhone != "" && eligibleStatus(a.Status) && InWindow(a.ScheduledAt, lead, now) && !sent[a.ID] {
			waiting++
		}
	}

	if len(triggered) > 0 {
		s.logger.Info("reminders: simulated reminders sent", "org_id", s.tenantID, "count", len(triggered))
	}
	return SimResult{Logs: logs, Triggered: triggered, Waiting: waiting}, nil
}
