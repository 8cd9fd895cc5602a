// Package session implements account registration and the login-token
// lifecycle on top of the persistence layer. Tokens are opaque random
// strings; a session record is written for every login and revoked in place
// on logout, never deleted.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"api-farm/internal/model"
	"api-farm/internal/store"
	"api-farm/internal/utils"
)

var (
	// ErrDuplicateUser rejects a registration for a taken username.
	ErrDuplicateUser = errors.New("username already exists")
	// ErrInvalidCredentials rejects a login with an unknown username or a
	// wrong password; callers cannot tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized rejects an unknown, revoked or expired token. Logout
	// of an already-revoked token returns the same error so token validity
	// cannot be probed.
	ErrUnauthorized = errors.New("unauthorized")
)

// Store verifies passwords and issues, validates and revokes session tokens.
type Store struct {
	mu       sync.Mutex
	users    map[string]model.User    // by username
	sessions map[string]model.Session // by token

	persist    store.Store
	bcryptCost int
	ttl        time.Duration
	now        func() time.Time
}

// New builds a Store over previously loaded state.
func New(persist store.Store, state *store.State, bcryptCost int, ttl time.Duration) *Store {
	s := &Store{
		users:      make(map[string]model.User, len(state.Users)),
		sessions:   make(map[string]model.Session, len(state.Sessions)),
		persist:    persist,
		bcryptCost: bcryptCost,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, u := range state.Users {
		s.users[u.Username] = u
	}
	for _, sess := range state.Sessions {
		s.sessions[sess.Token] = sess
	}
	return s
}

// Register creates a new user and returns its id. The password is hashed
// before anything touches the store.
func (s *Store) Register(username, password string) (string, error) {
	username = strings.TrimSpace(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return "", ErrDuplicateUser
	}
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.persist.PutUser(u); err != nil {
		return "", fmt.Errorf("persist user: %w", err)
	}
	s.users[username] = u
	return u.ID, nil
}

// Login verifies the password and mints a fresh session token. The token is
// persisted before it is handed out.
func (s *Store) Login(username, password string) (token, userID string, err error) {
	username = strings.TrimSpace(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || !utils.VerifyPassword(u.PasswordHash, password) {
		return "", "", ErrInvalidCredentials
	}

	// Regenerate on collision with any known token. With 256-bit tokens
	// this loop effectively never repeats.
	for {
		token, err = utils.NewSessionToken()
		if err != nil {
			return "", "", fmt.Errorf("mint token: %w", err)
		}
		if _, exists := s.sessions[token]; !exists {
			break
		}
	}

	sess := model.Session{
		Token:    token,
		UserID:   u.ID,
		IssuedAt: s.now().UTC(),
	}
	if err := s.persist.PutSession(sess); err != nil {
		return "", "", fmt.Errorf("persist session: %w", err)
	}
	s.sessions[token] = sess
	return token, u.ID, nil
}

// Verify resolves a token to its user id. Unknown, revoked and expired
// tokens all map to ErrUnauthorized.
func (s *Store) Verify(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok || sess.Revoked {
		return "", ErrUnauthorized
	}
	if s.ttl > 0 && s.now().After(sess.IssuedAt.Add(s.ttl)) {
		return "", ErrUnauthorized
	}
	return sess.UserID, nil
}

// Logout revokes the presented token only. Revoking an unknown or
// already-revoked token fails identically with ErrUnauthorized.
func (s *Store) Logout(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok || sess.Revoked {
		return ErrUnauthorized
	}
	sess.Revoked = true
	if err := s.persist.PutSession(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.sessions[token] = sess
	return nil
}
