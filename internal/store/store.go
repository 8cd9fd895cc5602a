// Package store is the durable persistence layer. The whole dataset is loaded
// into memory once at startup; afterwards every mutation is written through to
// the backing store before the triggering operation is acknowledged, so a crash
// can never lose an acknowledged change.
package store

import (
	"errors"

	"api-farm/internal/model"
)

// ErrCorrupt marks a store that exists but cannot be read or parsed. Startup
// must treat this as fatal rather than serve with partial state; only a
// missing store (first run) is silently treated as empty.
var ErrCorrupt = errors.New("corrupt store")

// State is the full persisted dataset returned by Load.
type State struct {
	Users       []model.User
	Sessions    []model.Session
	Credentials []model.Credential
}

// Store is the write-through persistence contract. Put operations replace an
// existing record with the same natural key (username, token, or credential
// value) and must commit durably before returning.
type Store interface {
	Load() (*State, error)
	PutUser(u model.User) error
	PutSession(s model.Session) error
	PutCredential(c model.Credential) error
	DeleteCredential(value string) error
	Close() error
}
