package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// account is a persisted user with its password hash.
type account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the device's signed-in session.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Record is everything the provider persists.
type Record struct {
	Accounts []account `json:"accounts"`
	Session  *Session  `json:"session,omitempty"`
}

// Store persists the auth record.
type Store interface {
	Load() (*Record, error)
	Save(*Record) error
}

// FileStore keeps the record in a JSON file, replaced atomically.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns an empty record when the file does not exist yet.
func (s *FileStore) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth store: %w", err)
	}

	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode auth store: %w", err)
	}
	return &rec, nil
}

func (s *FileStore) Save(rec *Record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode auth store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create auth dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write auth store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace auth store: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	rec     *Record
	LoadErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	if s.rec == nil {
		return &Record{}, nil
	}
	return cloneRecord(s.rec), nil
}

func (s *MemoryStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = cloneRecord(rec)
	return nil
}

func cloneRecord(rec *Record) *Record {
	out := &Record{Accounts: append([]account(nil), rec.Accounts...)}
	if rec.Session != nil {
		sess := *rec.Session
		out.Session = &sess
	}
	return out
}
