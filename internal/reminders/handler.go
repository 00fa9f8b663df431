package reminders

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

type jobReader interface {
	ListByTenant(ctx context.Context, tenantID string, status *JobStatus, limit int) ([]Job, error)
	Stats(ctx context.Context, tenantID string) (*Stats, error)
}

type logReader interface {
	ListByTenant(ctx context.Context, tenantID string, statuses []LogStatus, limit int) ([]LogEntry, error)
}

type settingsReadWriter interface {
	Get(ctx context.Context, tenantID string) (Settings, error)
	Set(ctx context.Context, tenantID string, s Settings) error
}

// Handler provides HTTP endpoints for the reminders admin dashboard.
type Handler struct {
	jobs     jobReader
	logs     logReader
	settings settingsReadWriter
	logger   *logging.Logger
}

// NewHandler creates a reminders HTTP handler. logs and settings may be nil.
func NewHandler(jobs jobReader, logs logReader, settings settingsReadWriter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{jobs: jobs, logs: logs, settings: settings, logger: logger}
}

// WithSendLog enables the /reminders/logs endpoint.
func (h *Handler) WithSendLog(logs logReader) *Handler {
	h.logs = logs
	return h
}

// WithSettings enables the settings endpoints.
func (h *Handler) WithSettings(settings settingsReadWriter) *Handler {
	h.settings = settings
	return h
}

// RegisterRoutes mounts reminder endpoints under a chi router.
// Expected to be mounted under /admin/orgs/{orgID}
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/reminders", h.listJobs)
	r.Get("/reminders/stats", h.getStats)
	r.Get("/reminders/logs", h.listLogs)
	r.Get("/reminders/settings", h.getSettings)
	r.Put("/reminders/settings", h.putSettings)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}

	var statusFilter *JobStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := ParseJobStatus(s)
		if err != nil {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		statusFilter = &st
	}

	jobs, err := h.jobs.ListByTenant(r.Context(), orgID, statusFilter, queryLimit(r, 100))
	if err != nil {
		h.logger.Error("reminders handler: list jobs", "org_id", orgID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reminders": jobs,
		"count":     len(jobs),
	})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}

	stats, err := h.jobs.Stats(r.Context(), orgID)
	if err != nil {
		h.logger.Error("reminders handler: stats", "org_id", orgID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if h.logs == nil {
		http.Error(w, "send log not configured", http.StatusServiceUnavailable)
		return
	}

	var statuses []LogStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			switch st := LogStatus(strings.TrimSpace(part)); st {
			case LogSuccess, LogFailed, LogRetry, LogError:
				statuses = append(statuses, st)
			default:
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
		}
	}

	entries, err := h.logs.ListByTenant(r.Context(), orgID, statuses, queryLimit(r, 100))
	if err != nil {
		h.logger.Error("reminders handler: list logs", "org_id", orgID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if h.settings == nil {
		http.Error(w, "settings not configured", http.StatusServiceUnavailable)
		return
	}
	s, err := h.settings.Get(r.Context(), orgID)
	if err != nil {
		h.logger.Error("reminders handler: get settings", "org_id", orgID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if h.settings == nil {
		http.Error(w, "settings not configured", http.StatusServiceUnavailable)
		return
	}
	var s Settings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&s); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	for _, lt := range s.LeadTimes {
		if lt < MinLeadTime || lt > MaxLeadTime {
			http.Error(w, "lead times must be between 1m and 168h", http.StatusBadRequest)
			return
		}
	}
	if err := h.settings.Set(r.Context(), orgID, s); err != nil {
		h.logger.Error("reminders handler: save settings", "org_id", orgID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("reminders handler: settings updated", "org_id", orgID, "enabled", s.Enabled)
	writeJSON(w, http.StatusOK, s)
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
