package whatsapp

import (
	"context"
	"sync"
)

// SimulatedMessage is a send captured by SimulatedTransport.
type SimulatedMessage struct {
	TenantID string
	JID      string
	Text     string
}

// SimulatedTransport pretends every tenant is paired and records sends
// instead of touching a real channel.
type SimulatedTransport struct {
	mu   sync.Mutex
	sent []SimulatedMessage
}

var _ Transport = (*SimulatedTransport)(nil)

func (t *SimulatedTransport) SendText(_ context.Context, tenantID, jid, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, SimulatedMessage{TenantID: tenantID, JID: jid, Text: text})
	return nil
}

func (t *SimulatedTransport) StartSession(_ context.Context, tenantID string) (StatusUpdate, error) {
	return StatusUpdate{TenantID: tenantID, Status: StatusConnected}, nil
}

func (t *SimulatedTransport) EndSession(context.Context, string) error {
	return nil
}

// Sent returns a copy of the recorded messages.
func (t *SimulatedTransport) Sent() []SimulatedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SimulatedMessage(nil), t.sent...)
}

// NewSimulatedRegistry returns a registry whose listed tenants are already connected.
func NewSimulatedRegistry(ctx context.Context, transport *SimulatedTransport, tenantIDs ...string) *Registry {
	reg := NewRegistry(transport, nil, nil)
	for _, id := range tenantIDs {
		reg.Apply(ctx, StatusUpdate{TenantID: id, Status: StatusConnected})
	}
	return reg
}
