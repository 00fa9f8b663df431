package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/reminders"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, time.Now().UTC(), os.Stdout, logger); err != nil {
		logger.Error("reminder simulation failed", "error", err)
		os.Exit(1)
	}
}

// run processes one simulator pass over the appointments file, appends new
// sends to the log file and prints the result as JSON.
func run(ctx context.Context, cfg *appconfig.Config, now time.Time, out io.Writer, logger *logging.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	appointments, err := reminders.LoadAppointmentsFile(cfg.SimAppointmentsPath)
	if err != nil {
		return err
	}
	logFile := reminders.SimLogFile{Path: cfg.SimLogPath}
	existing, err := logFile.Load()
	if err != nil {
		return err
	}

	settings := reminders.DefaultSettings(cfg.ReminderLeadTimes, cfg.ReminderSenderName)
	sim := reminders.NewSimulator(cfg.SimTenantID, logger).
		WithMessageDelay(cfg.MessageDelay).
		WithLocation(loc)
	result, err := sim.Process(ctx, appointments, existing, settings, now)
	if err != nil {
		return err
	}
	if len(result.Triggered) > 0 {
		if err := logFile.Save(result.Logs); err != nil {
			return err
		}
	}
	logger.Info("reminder simulation finished",
		"appointments", len(appointments),
		"triggered", len(result.Triggered),
		"waiting", result.Waiting,
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
