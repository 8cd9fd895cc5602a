package model

import "time"

// CredentialStatus is the health state of one upstream key.
type CredentialStatus string

const (
	// StatusActive marks a credential eligible for selection.
	StatusActive CredentialStatus = "active"
	// StatusCoolingDown marks a credential suspended until CooldownUntil.
	StatusCoolingDown CredentialStatus = "cooling_down"
	// StatusDisabled marks a credential rejected by its upstream
	// (authentication or quota). It never re-activates automatically.
	StatusDisabled CredentialStatus = "disabled"
)

// Credential is one upstream API key contributed to the shared pool.
// Value is unique across the whole pool regardless of owner.
type Credential struct {
	ID            string           `json:"id"`
	OwnerID       string           `json:"owner_id"`
	Value         string           `json:"value"`
	Endpoint      string           `json:"endpoint"`
	Status        CredentialStatus `json:"status"`
	FailCount     int              `json:"fail_count"`
	CooldownUntil time.Time        `json:"cooldown_until,omitzero"`
	LastUsedAt    time.Time        `json:"last_used_at,omitzero"`
	CreatedAt     time.Time        `json:"created_at"`
}
