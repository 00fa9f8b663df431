// Package whatsapp tracks one WhatsApp session per organization and sends
// text messages through it.
package whatsapp

import (
	"errors"
	"strings"
	"time"
)

// Status is the connection state of a tenant's WhatsApp session.
type Status string

const (
	StatusScanning     Status = "scanning"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

var (
	// ErrNotConnected is returned when sending through a session that is not connected.
	ErrNotConnected = errors.New("whatsapp: session not connected")
	// ErrSessionNotFound is returned by stores when the tenant never paired a device.
	ErrSessionNotFound = errors.New("whatsapp: session not found")
)

// ParseStatus normalizes a status string; unknown values map to disconnected.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusScanning:
		return StatusScanning
	case StatusConnected:
		return StatusConnected
	case StatusError:
		return StatusError
	default:
		return StatusDisconnected
	}
}

// Session is the persisted view of a tenant's messaging channel.
type Session struct {
	TenantID  string    `json:"organization_id"`
	Status    Status    `json:"status"`
	QRCode    string    `json:"qr,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusUpdate is a connection event reported by the bridge.
type StatusUpdate struct {
	TenantID string `json:"organization_id"`
	Status   Status `json:"status"`
	QRCode   string `json:"qr,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// JID converts a phone number into a WhatsApp user JID.
// Values that already contain "@" are treated as JIDs and returned untouched.
func JID(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.Contains(phone, "@") {
		return phone
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "@s.whatsapp.net"
}
