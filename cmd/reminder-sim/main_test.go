package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

func TestRunSendsOnceAcrossPasses(t *testing.T) {
	dir := t.TempDir()
	apptsPath := filepath.Join(dir, "appointments.json")
	logPath := filepath.Join(dir, "reminder-log.json")
	appts := `[
		{"id":"a1","patientName":"Ana Souza","patientPhone":"5550001","procedureName":"Botox","scheduledDate":"2025-06-10T12:00:00Z","status":"scheduled"},
		{"id":"a2","patientName":"Bia Lima","procedureName":"Peeling","scheduledDate":"2025-06-10T13:00:00Z","status":"scheduled"}
	]`
	require.NoError(t, os.WriteFile(apptsPath, []byte(appts), 0o600))

	cfg := &appconfig.Config{
		SimTenantID:         "local",
		SimAppointmentsPath: apptsPath,
		SimLogPath:          logPath,
		ReminderLeadTimes:   []time.Duration{24 * time.Hour},
		ReminderSenderName:  "Clínica Sol",
	}
	now := time.Date(2025, 6, 9, 18, 0, 0, 0, time.UTC)
	logger := logging.NewWithWriter("error", &bytes.Buffer{})

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, now, &out, logger))

	var first reminders.SimResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &first))
	require.Len(t, first.Triggered, 1)
	assert.Equal(t, "a1", first.Triggered[0].SessionID)

	saved, err := reminders.SimLogFile{Path: logPath}.Load()
	require.NoError(t, err)
	require.Len(t, saved, 1)

	out.Reset()
	require.NoError(t, run(context.Background(), cfg, now.Add(time.Hour), &out, logger))
	var second reminders.SimResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &second))
	assert.Empty(t, second.Triggered)
	assert.Len(t, second.Logs, 1)
}

func TestRunMissingAppointments(t *testing.T) {
	cfg := &appconfig.Config{
		SimAppointmentsPath: filepath.Join(t.TempDir(), "missing.json"),
		SimLogPath:          filepath.Join(t.TempDir(), "log.json"),
	}
	err := run(context.Background(), cfg, time.Now(), &bytes.Buffer{}, logging.NewWithWriter("error", &bytes.Buffer{}))
	assert.Error(t, err)
}
