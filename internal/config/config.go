package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	CronSecret     string
	AdminJWTSecret string

	// WhatsApp bridge sidecar that owns the per-tenant sessions
	WhatsAppBridgeURL   string
	WhatsAppBridgeToken string

	// Dispatch
	BatchLimit     int
	CronBatchLimit int
	MaxRetries     int
	RetryBackoff   time.Duration
	PollInterval   time.Duration
	MessageDelay   time.Duration
	ReclaimAfter   time.Duration

	// Producer
	ReminderLeadTimes  []time.Duration
	ReminderSenderName string
	ReminderTimezone   string
	SimTenantID        string

	// Simulator
	SimAppointmentsPath string
	SimLogPath          string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		CronSecret:     getEnv("CRON_SECRET", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		WhatsAppBridgeURL:   strings.TrimRight(getEnv("WHATSAPP_BRIDGE_URL", ""), "/"),
		WhatsAppBridgeToken: getEnv("WHATSAPP_BRIDGE_TOKEN", ""),

		BatchLimit:     getEnvAsInt("BATCH_LIMIT", 20),
		CronBatchLimit: getEnvAsInt("CRON_BATCH_LIMIT", 10),
		MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
		RetryBackoff:   time.Duration(getEnvAsInt("RETRY_BACKOFF_SECONDS", 60)) * time.Second,
		PollInterval:   time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 30)) * time.Second,
		MessageDelay:   time.Duration(getEnvAsInt("MESSAGE_DELAY_MS", 500)) * time.Millisecond,
		ReclaimAfter:   time.Duration(getEnvAsInt("RECLAIM_AFTER_SECONDS", 0)) * time.Second,

		ReminderLeadTimes:  getEnvAsDurations("REMINDER_LEAD_TIMES", []time.Duration{24 * time.Hour, 2 * time.Hour}),
		ReminderSenderName: getEnv("REMINDER_SENDER_NAME", "Clinic Team"),
		ReminderTimezone:   getEnv("REMINDER_TIMEZONE", "UTC"),
		SimTenantID:        getEnv("SIM_TENANT_ID", "local"),

		SimAppointmentsPath: getEnv("SIM_APPOINTMENTS_PATH", "appointments.json"),
		SimLogPath:          getEnv("SIM_LOG_PATH", "reminder-log.json"),
	}
}

// EffectiveCronBatchLimit bounds a single cron invocation so it fits the caller's timeout.
func (c *Config) EffectiveCronBatchLimit() int {
	limit := c.CronBatchLimit
	if limit <= 0 {
		limit = 10
	}
	if c.BatchLimit > 0 && limit > c.BatchLimit {
		limit = c.BatchLimit
	}
	return limit
}

// Location resolves ReminderTimezone, the zone appointment times are rendered in.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.ReminderTimezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: REMINDER_TIMEZONE: %w", err)
	}
	return loc, nil
}

// ValidateDispatch checks the knobs shared by every dispatch mode.
func (c *Config) ValidateDispatch() error {
	var errs []error
	if c.BatchLimit <= 0 {
		errs = append(errs, errors.New("BATCH_LIMIT must be > 0"))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, errors.New("MAX_RETRIES must be > 0"))
	}
	if c.RetryBackoff <= 0 {
		errs = append(errs, errors.New("RETRY_BACKOFF_SECONDS must be > 0"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SECONDS must be > 0"))
	}
	if c.MessageDelay < 0 {
		errs = append(errs, errors.New("MESSAGE_DELAY_MS must be >= 0"))
	}
	if c.ReclaimAfter < 0 {
		errs = append(errs, errors.New("RECLAIM_AFTER_SECONDS must be >= 0"))
	}
	if len(c.ReminderLeadTimes) == 0 {
		errs = append(errs, errors.New("REMINDER_LEAD_TIMES must list at least one positive duration"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RequireWorker validates the persistent worker configuration.
func (c *Config) RequireWorker() error {
	return errors.Join(
		c.ValidateDispatch(),
		requireValue("DATABASE_URL", c.DatabaseURL),
		requireValue("WHATSAPP_BRIDGE_URL", c.WhatsAppBridgeURL),
	)
}

// RequireCron validates the single-pass cron entrypoint configuration.
func (c *Config) RequireCron() error {
	return errors.Join(
		c.ValidateDispatch(),
		requireValue("DATABASE_URL", c.DatabaseURL),
		requireValue("CRON_SECRET", c.CronSecret),
		requireValue("WHATSAPP_BRIDGE_URL", c.WhatsAppBridgeURL),
	)
}

func requireValue(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", key)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDurations parses a comma separated list like "24h,2h".
// Invalid or non-positive entries are skipped; an empty result falls back to the default.
func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []time.Duration
	for _, part := range strings.Split(valueStr, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
