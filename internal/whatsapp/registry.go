package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

// Transport performs the actual channel I/O for a tenant's session.
type Transport interface {
	SendText(ctx context.Context, tenantID, jid, text string) error
	StartSession(ctx context.Context, tenantID string) (StatusUpdate, error)
	EndSession(ctx context.Context, tenantID string) error
}

type sessionStore interface {
	Get(ctx context.Context, tenantID string) (*Session, error)
	Upsert(ctx context.Context, s Session) error
	MarkDisconnected(ctx context.Context, tenantID string) error
}

// Registry holds one session per tenant, looked up by organization id.
// Connection state is written only through Apply, Initialize and Disconnect.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	transport Transport
	store     sessionStore
	logger    *logging.Logger
	now       func() time.Time
}

// NewRegistry builds a registry. store may be nil for process-local sessions.
func NewRegistry(transport Transport, store sessionStore, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		transport: transport,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// Session returns the current session for a tenant.
func (r *Registry) Session(ctx context.Context, tenantID string) (Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[tenantID]
	if ok {
		cp := *s
		r.mu.RUnlock()
		return cp, nil
	}
	r.mu.RUnlock()

	if r.store == nil {
		return Session{TenantID: tenantID, Status: StatusDisconnected}, nil
	}
	stored, err := r.store.Get(ctx, tenantID)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{TenantID: tenantID, Status: StatusDisconnected}, nil
	}
	if err != nil {
		return Session{}, err
	}
	return *stored, nil
}

// Status reports the tenant's connection state. Lookup failures read as disconnected.
func (r *Registry) Status(ctx context.Context, tenantID string) Status {
	s, err := r.Session(ctx, tenantID)
	if err != nil {
		r.logger.Warn("whatsapp: status lookup failed", "org_id", tenantID, "error", err)
		return StatusDisconnected
	}
	return s.Status
}

// Send delivers text to phone through the tenant's session.
func (r *Registry) Send(ctx context.Context, tenantID, phone, text string) error {
	if r.transport == nil {
		return errors.New("whatsapp: transport not configured")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("whatsapp: text required")
	}
	jid := JID(phone)
	if jid == "" {
		return fmt.Errorf("whatsapp: invalid phone %q", phone)
	}
	if st := r.Status(ctx, tenantID); st != StatusConnected {
		return fmt.Errorf("%w: organization %s is %s", ErrNotConnected, tenantID, st)
	}
	if err := r.transport.SendText(ctx, tenantID, jid, text); err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	r.logger.Debug("whatsapp: message sent", "org_id", tenantID, "jid", jid)
	return nil
}

// Initialize starts pairing for a tenant. An existing session is returned as-is.
func (r *Registry) Initialize(ctx context.Context, tenantID string) (Session, error) {
	current, err := r.Session(ctx, tenantID)
	if err != nil {
		return Session{}, err
	}
	if current.Status == StatusConnected || current.Status == StatusScanning {
		return current, nil
	}
	if r.transport == nil {
		return Session{}, errors.New("whatsapp: transport not configured")
	}
	upd, err := r.transport.StartSession(ctx, tenantID)
	if err != nil {
		return Session{}, fmt.Errorf("whatsapp: start session: %w", err)
	}
	upd.TenantID = tenantID
	if upd.Status == "" {
		upd.Status = StatusScanning
	}
	return r.Apply(ctx, upd), nil
}

// Disconnect tears the tenant's session down and forgets it.
func (r *Registry) Disconnect(ctx context.Context, tenantID string) error {
	if r.transport != nil {
		if err := r.transport.EndSession(ctx, tenantID); err != nil {
			return fmt.Errorf("whatsapp: end session: %w", err)
		}
	}
	r.mu.Lock()
	delete(r.sessions, tenantID)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.MarkDisconnected(ctx, tenantID); err != nil {
			return err
		}
	}
	r.logger.Info("whatsapp: session disconnected", "org_id", tenantID)
	return nil
}

// Apply records a connection event and persists it best-effort.
func (r *Registry) Apply(ctx context.Context, upd StatusUpdate) Session {
	s := Session{
		TenantID:  upd.TenantID,
		Status:    ParseStatus(string(upd.Status)),
		UpdatedAt: r.now().UTC(),
	}
	switch s.Status {
	case StatusScanning:
		s.QRCode = upd.QRCode
	case StatusConnected:
		s.Phone = upd.Phone
	}

	r.mu.Lock()
	prev, had := r.sessions[upd.TenantID]
	r.sessions[upd.TenantID] = &s
	r.mu.Unlock()

	if !had || prev.Status != s.Status {
		r.logger.Info("whatsapp: session status changed", "org_id", s.TenantID, "status", s.Status)
	}
	if r.store != nil {
		if err := r.store.Upsert(ctx, s); err != nil {
			r.logger.Error("whatsapp: persist session failed", "org_id", s.TenantID, "error", err)
		}
	}
	return s
}
