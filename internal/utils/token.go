package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// tokenBytes is the entropy of a session token. 32 bytes (256 bits) keeps
// tokens unguessable; hex encoding yields 64 characters on the wire.
const tokenBytes = 32

// NewSessionToken returns an opaque, cryptographically random token.
func NewSessionToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
