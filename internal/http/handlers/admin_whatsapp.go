package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-reminders/internal/whatsapp"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

type sessionRegistry interface {
	Session(ctx context.Context, tenantID string) (whatsapp.Session, error)
	Initialize(ctx context.Context, tenantID string) (whatsapp.Session, error)
	Disconnect(ctx context.Context, tenantID string) error
}

// AdminWhatsAppHandler lets clinic admins pair and unpair their WhatsApp number.
type AdminWhatsAppHandler struct {
	registry sessionRegistry
	logger   *logging.Logger
}

func NewAdminWhatsAppHandler(registry sessionRegistry, logger *logging.Logger) *AdminWhatsAppHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminWhatsAppHandler{registry: registry, logger: logger}
}

// RegisterRoutes mounts the session endpoints. Expected under /admin/orgs/{orgID}.
func (h *AdminWhatsAppHandler) RegisterRoutes(r chi.Router) {
	r.Get("/whatsapp/status", h.status)
	r.Post("/whatsapp/initialize", h.initialize)
	r.Post("/whatsapp/disconnect", h.disconnect)
}

func (h *AdminWhatsAppHandler) status(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	sess, err := h.registry.Session(r.Context(), orgID)
	if err != nil {
		h.logger.Error("whatsapp admin: load session", "org_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AdminWhatsAppHandler) initialize(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	sess, err := h.registry.Initialize(r.Context(), orgID)
	if err != nil {
		h.logger.Error("whatsapp admin: initialize", "org_id", orgID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to start whatsapp session"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AdminWhatsAppHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if err := h.registry.Disconnect(r.Context(), orgID); err != nil {
		h.logger.Error("whatsapp admin: disconnect", "org_id", orgID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to disconnect whatsapp session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organization_id": orgID, "status": whatsapp.StatusDisconnected})
}
