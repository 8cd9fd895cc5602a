package model

import "time"

// Session is one issued login token. Session records are never deleted;
// logout sets the revoked flag and expiry is checked lazily at verification,
// so the row stays around for audit.
type Session struct {
	Token    string    `json:"token"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
	Revoked  bool      `json:"revoked"`
}
