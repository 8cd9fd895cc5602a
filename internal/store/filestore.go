package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"api-farm/internal/model"
)

const (
	usersFile       = "users.json"
	sessionsFile    = "sessions.json"
	credentialsFile = "credentials.json"
)

// FileStore keeps each collection in its own JSON file under a data
// directory: users keyed by username, sessions by token, credentials by
// value. Every mutation rewrites the owning file through a temp file and an
// atomic rename, so a crash mid-write leaves either the old or the new
// content, never a torn record.
type FileStore struct {
	dir string

	mu          sync.Mutex
	users       map[string]model.User
	sessions    map[string]model.Session
	credentials map[string]model.Credential
}

// NewFileStore creates the data directory if needed and returns an unloaded
// store. Call Load before using any Put/Delete method.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &FileStore{
		dir:         dir,
		users:       make(map[string]model.User),
		sessions:    make(map[string]model.Session),
		credentials: make(map[string]model.Credential),
	}, nil
}

// Load reads all three collections. A missing file is an empty collection
// (first run); a file that exists but does not parse is ErrCorrupt.
func (f *FileStore) Load() (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := readCollection(filepath.Join(f.dir, usersFile), &f.users); err != nil {
		return nil, err
	}
	if err := readCollection(filepath.Join(f.dir, sessionsFile), &f.sessions); err != nil {
		return nil, err
	}
	if err := readCollection(filepath.Join(f.dir, credentialsFile), &f.credentials); err != nil {
		return nil, err
	}

	st := &State{}
	for _, u := range f.users {
		st.Users = append(st.Users, u)
	}
	for _, s := range f.sessions {
		st.Sessions = append(st.Sessions, s)
	}
	for _, c := range f.credentials {
		st.Credentials = append(st.Credentials, c)
	}
	// Map iteration order is random; callers rely on insertion order for
	// credential listings.
	sort.Slice(st.Credentials, func(i, j int) bool {
		a, b := st.Credentials[i], st.Credentials[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Value < b.Value
	})
	return st, nil
}

func (f *FileStore) PutUser(u model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Username] = u
	return writeCollection(filepath.Join(f.dir, usersFile), f.users)
}

func (f *FileStore) PutSession(s model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.Token] = s
	return writeCollection(filepath.Join(f.dir, sessionsFile), f.sessions)
}

func (f *FileStore) PutCredential(c model.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials[c.Value] = c
	return writeCollection(filepath.Join(f.dir, credentialsFile), f.credentials)
}

func (f *FileStore) DeleteCredential(value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.credentials, value)
	return writeCollection(filepath.Join(f.dir, credentialsFile), f.credentials)
}

func (f *FileStore) Close() error { return nil }

// readCollection decodes path into dst, leaving dst untouched when the file
// does not exist yet.
func readCollection[T any](path string, dst *map[string]T) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrCorrupt, path, err)
	}
	m := make(map[string]T)
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrCorrupt, path, err)
	}
	*dst = m
	return nil
}

// writeCollection serializes the collection to a temp file in the same
// directory, fsyncs it, and renames it over the target.
func writeCollection[T any](path string, col map[string]T) error {
	raw, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
