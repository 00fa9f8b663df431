package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSenderName signs reminders when a tenant has not set one.
const DefaultSenderName = "Clinic Team"

// Tenant lead times must fall within [MinLeadTime, MaxLeadTime].
const (
	MinLeadTime = time.Minute
	MaxLeadTime = 7 * 24 * time.Hour
)

// DefaultLeadTimes are the windows used when nothing is configured.
var DefaultLeadTimes = []time.Duration{24 * time.Hour, 2 * time.Hour}

// DefaultSettings returns enabled settings with the given lead times and sender.
func DefaultSettings(leadTimes []time.Duration, senderName string) Settings {
	if len(leadTimes) == 0 {
		leadTimes = DefaultLeadTimes
	}
	if senderName == "" {
		senderName = DefaultSenderName
	}
	return Settings{
		Enabled:    true,
		LeadTimes:  append([]time.Duration(nil), leadTimes...),
		SenderName: senderName,
	}
}

type settingsJSON struct {
	Enabled       bool     `json:"enabled"`
	LeadTimes     []string `json:"lead_times"`
	SenderName    string   `json:"sender_name"`
	CustomMessage string   `json:"custom_message,omitempty"`
}

// MarshalJSON writes lead times as Go duration strings ("24h0m0s").
func (s Settings) MarshalJSON() ([]byte, error) {
	out := settingsJSON{Enabled: s.Enabled, SenderName: s.SenderName, CustomMessage: s.CustomMessage}
	for _, lt := range s.LeadTimes {
		out.LeadTimes = append(out.LeadTimes, lt.String())
	}
	return json.Marshal(out)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	var in settingsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Enabled = in.Enabled
	s.SenderName = in.SenderName
	s.CustomMessage = in.CustomMessage
	s.LeadTimes = s.LeadTimes[:0]
	for _, raw := range in.LeadTimes {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("reminders: invalid lead time %q: %w", raw, err)
		}
		if d > 0 {
			s.LeadTimes = append(s.LeadTimes, d)
		}
	}
	return nil
}

// SettingsProvider resolves a tenant's reminder settings.
type SettingsProvider interface {
	Get(ctx context.Context, tenantID string) (Settings, error)
}

// SettingsStore keeps per-tenant settings in Redis as JSON.
type SettingsStore struct {
	redis    *redis.Client
	defaults Settings
}

// NewSettingsStore creates a Redis-backed settings store. defaults are
// returned for tenants that never saved settings.
func NewSettingsStore(client *redis.Client, defaults Settings) *SettingsStore {
	return &SettingsStore{redis: client, defaults: defaults}
}

func (s *SettingsStore) key(tenantID string) string {
	return fmt.Sprintf("reminder_settings:%s", tenantID)
}

// Get retrieves settings, returning defaults if not found.
func (s *SettingsStore) Get(ctx context.Context, tenantID string) (Settings, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.defaults, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reminders: get settings: %w", err)
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("reminders: unmarshal settings: %w", err)
	}
	if len(out.LeadTimes) == 0 {
		out.LeadTimes = append([]time.Duration(nil), s.defaults.LeadTimes...)
	}
	if out.SenderName == "" {
		out.SenderName = s.defaults.SenderName
	}
	return out, nil
}

// Set saves settings for a tenant.
func (s *SettingsStore) Set(ctx context.Context, tenantID string, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("reminders: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(tenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("reminders: save settings: %w", err)
	}
	return nil
}

// StaticSettings returns the same settings for every tenant.
type StaticSettings Settings

func (s StaticSettings) Get(context.Context, string) (Settings, error) {
	return Settings(s), nil
}
