package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api-farm/internal/store"
)

// bcrypt.MinCost keeps the hashing fast; 4 is the library floor.
const testCost = 4

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	state, err := fs.Load()
	require.NoError(t, err)
	return New(fs, state, testCost, time.Hour)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	id, err := s.Register("alice", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.Register("alice", "other")
	require.ErrorIs(t, err, ErrDuplicateUser)
}

func TestLogin_VerifyRoundTrip(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	id, err := s.Register("alice", "pw")
	require.NoError(t, err)

	token, userID, err := s.Login("alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, id, userID)
	assert.GreaterOrEqual(t, len(token), 32, "token must carry at least 128 bits of entropy")

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.Register("alice", "pw")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"unknown user", "bob", "pw"},
		{"wrong password", "alice", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Login(tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestLogin_MintsDistinctTokens(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.Register("alice", "pw")
	require.NoError(t, err)

	t1, _, err := s.Login("alice", "pw")
	require.NoError(t, err)
	t2, _, err := s.Login("alice", "pw")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)

	// Both sessions stay valid concurrently.
	_, err = s.Verify(t1)
	assert.NoError(t, err)
	_, err = s.Verify(t2)
	assert.NoError(t, err)
}

func TestLogout_RevokesOnlyPresentedToken(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.Register("alice", "pw")
	require.NoError(t, err)

	t1, _, err := s.Login("alice", "pw")
	require.NoError(t, err)
	t2, _, err := s.Login("alice", "pw")
	require.NoError(t, err)

	require.NoError(t, s.Logout(t1))

	_, err = s.Verify(t1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = s.Verify(t2)
	assert.NoError(t, err)
}

func TestLogout_UnknownAndRepeatedAreUnauthorized(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.Register("alice", "pw")
	require.NoError(t, err)

	token, _, err := s.Login("alice", "pw")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Logout("never-issued"), ErrUnauthorized)
	require.NoError(t, s.Logout(token))
	// Revoking again looks exactly like revoking an unknown token.
	assert.ErrorIs(t, s.Logout(token), ErrUnauthorized)
}

func TestVerify_ExpiredToken(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.Register("alice", "pw")
	require.NoError(t, err)

	token, _, err := s.Login("alice", "pw")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessions_SurviveRestart(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.Register("alice", "pw")
	require.NoError(t, err)

	t1, _, err := s.Login("alice", "pw")
	require.NoError(t, err)
	require.NoError(t, s.Logout(t1))
	t2, userID, err := s.Login("alice", "pw")
	require.NoError(t, err)

	// Simulate a process restart: reload everything from disk.
	restarted := newTestStore(t, dir)

	_, err = restarted.Verify(t1)
	assert.ErrorIs(t, err, ErrUnauthorized, "revocation must survive restart")

	got, err := restarted.Verify(t2)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, _, err = restarted.Login("alice", "pw")
	assert.NoError(t, err, "password hash must survive restart")
}
