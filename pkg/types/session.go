package types

import (
	"encoding/json"
	"time"
)

// Session represents one table access grant issued by the backend
type Session struct {
	ID        string          `json:"id"`
	TableID   int             `json:"tableId"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	MetaJSON  json.RawMessage `json:"metaJson,omitempty"`
}

// Expired reports whether the locally known expiry has been reached at now.
// A session without ExpiresAt never expires locally.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		c.ExpiresAt = &exp
	}
	if s.MetaJSON != nil {
		c.MetaJSON = append(json.RawMessage(nil), s.MetaJSON...)
	}
	return &c
}

// CreateSessionRequest is sent to POST /sessions when a QR code is scanned
type CreateSessionRequest struct {
	QRCodeToken string          `json:"qrCodeToken"`
	Meta        json.RawMessage `json:"meta,omitempty"`
}

// CreateSessionResponse is the backend answer to a QR token exchange
type CreateSessionResponse struct {
	Session
	Message string `json:"message,omitempty"`
}

// ValidateSessionResponse is the backend answer to GET /sessions/{id}/validate
type ValidateSessionResponse struct {
	IsValid bool     `json:"isValid"`
	Session *Session `json:"session,omitempty"`
}

// SessionResponse represents the kiosk session state in local API responses
type SessionResponse struct {
	SessionID       string   `json:"sessionId,omitempty"`
	Session         *Session `json:"session,omitempty"`
	HasValidSession bool     `json:"hasValidSession"`
	Loading         bool     `json:"loading"`
	State           string   `json:"state"`
}
