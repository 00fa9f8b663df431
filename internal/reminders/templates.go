package reminders

import (
	"fmt"
	"strings"
	"time"
)

// FirstName returns the first word of a full name, or "there" when empty.
func FirstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// RenderMessage builds the reminder text for an appointment. A tenant's
// custom message may use {name}, {procedure}, {professional}, {date} and
// {time} placeholders.
func RenderMessage(a Appointment, s Settings, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	at := a.ScheduledAt.In(loc)
	professional := a.ProfessionalName
	if professional == "" {
		professional = "our team"
	}
	procedure := a.ProcedureName
	if procedure == "" {
		procedure = "your appointment"
	}
	sender := s.SenderName
	if sender == "" {
		sender = DefaultSenderName
	}

	if custom := strings.TrimSpace(s.CustomMessage); custom != "" {
		return strings.NewReplacer(
			"{name}", FirstName(a.PatientName),
			"{procedure}", procedure,
			"{professional}", professional,
			"{date}", at.Format("Mon, Jan 2"),
			"{time}", at.Format("15:04"),
		).Replace(custom)
	}

	return fmt.Sprintf(
		"Hi %s, this is a reminder that you have %s with %s on %s at %s. Any questions, just reply to this message. - %s",
		FirstName(a.PatientName), procedure, professional,
		at.Format("Mon, Jan 2"), at.Format("15:04"), sender,
	)
}
