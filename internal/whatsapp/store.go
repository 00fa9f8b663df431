package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionStore persists session state in whatsapp_sessions so every process
// (API, worker, cron) sees the same status.
type SessionStore struct {
	db DB
}

// NewSessionStore creates a Postgres-backed session store.
func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get loads a tenant's session.
func (s *SessionStore) Get(ctx context.Context, tenantID string) (*Session, error) {
	var (
		sess   Session
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT organization_id, status, COALESCE(qr_code, ''), COALESCE(phone_number, ''), updated_at
		FROM whatsapp_sessions
		WHERE organization_id = $1`, tenantID).
		Scan(&sess.TenantID, &status, &sess.QRCode, &sess.Phone, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("whatsapp: get session: %w", err)
	}
	sess.Status = ParseStatus(status)
	return &sess, nil
}

// Upsert writes the latest session state.
func (s *SessionStore) Upsert(ctx context.Context, sess Session) error {
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO whatsapp_sessions (organization_id, status, qr_code, phone_number, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		ON CONFLICT (organization_id) DO UPDATE
		SET status = EXCLUDED.status,
		    qr_code = EXCLUDED.qr_code,
		    phone_number = EXCLUDED.phone_number,
		    updated_at = EXCLUDED.updated_at`,
		sess.TenantID, string(sess.Status), sess.QRCode, sess.Phone, updatedAt)
	if err != nil {
		return fmt.Errorf("whatsapp: upsert session: %w", err)
	}
	return nil
}

// MarkDisconnected clears pairing data for a tenant.
func (s *SessionStore) MarkDisconnected(ctx context.Context, tenantID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE whatsapp_sessions
		SET status = 'disconnected', qr_code = NULL, phone_number = NULL,
		    disconnected_at = now(), updated_at = now()
		WHERE organization_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("whatsapp: mark disconnected: %w", err)
	}
	return nil
}
