package reminders

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SimLogFile persists simulator history as a JSON array on local disk.
type SimLogFile struct {
	Path string
}

// Load reads the log. A missing file is an empty history.
func (f SimLogFile) Load() ([]SimLogEntry, error) {
	var entries []SimLogEntry
	if err := readJSONFile(f.Path, &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reminders: load sim log: %w", err)
	}
	return entries, nil
}

// Save replaces the log atomically.
func (f SimLogFile) Save(entries []SimLogEntry) error {
	if entries == nil {
		entries = []SimLogEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("reminders: marshal sim log: %w", err)
	}
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".reminder-log-*.json")
	if err != nil {
		return fmt.Errorf("reminders: save sim log: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("reminders: save sim log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("reminders: save sim log: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("reminders: save sim log: %w", err)
	}
	return nil
}

// LoadAppointmentsFile reads a JSON array of appointments.
func LoadAppointmentsFile(path string) ([]Appointment, error) {
	var appts []Appointment
	if err := readJSONFile(path, &appts); err != nil {
		return nil, fmt.Errorf("reminders: load appointments: %w", err)
	}
	return appts, nil
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
