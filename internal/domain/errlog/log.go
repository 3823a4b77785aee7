package errlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/appshell/internal/shared/id"
)

// DefaultCapacity bounds the local error log.
const DefaultCapacity = 50

// Entry is one captured error. Entries are never mutated after creation.
type Entry struct {
	ID        id.EntryID `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Context   string     `json:"context"`
	Message   string     `json:"message"`
	Stack     string     `json:"stack"`
	Fatal     bool       `json:"fatal"`
}

// NewEntry builds an entry for err captured under context.
func NewEntry(context string, err error, stack string, fatal bool) Entry {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	return Entry{
		ID:        id.NewEntryID(),
		Timestamp: time.Now().UTC(),
		Context:   context,
		Message:   msg,
		Stack:     stack,
		Fatal:     fatal,
	}
}

// Store persists the whole log.
type Store interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
}

// Log is a bounded, persisted, ordered sequence of entries. Once over
// capacity the oldest entries are dropped.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
	store    Store
}

// Open restores the log from store, keeping the newest capacity entries.
func Open(store Store, capacity int) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if store == nil {
		store = NewMemoryStore()
	}

	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load error log: %w", err)
	}

	return &Log{
		capacity: capacity,
		entries:  truncate(entries, capacity),
		store:    store,
	}, nil
}

// Append adds an entry and persists immediately. The entry is kept in
// memory even when persisting fails.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = truncate(append(l.entries, e), l.capacity)
	if err := l.store.Save(l.entries); err != nil {
		return fmt.Errorf("failed to persist error log: %w", err)
	}
	return nil
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the bound.
func (l *Log) Capacity() int {
	return l.capacity
}

// Clear empties the log and persists the empty sequence.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	return l.store.Save([]Entry{})
}

// truncate keeps the newest n entries, copying into a fresh slice so the
// dropped prefix can be collected.
func truncate(entries []Entry, n int) []Entry {
	if len(entries) <= n {
		return entries
	}
	out := make([]Entry, n)
	copy(out, entries[len(entries)-n:])
	return out
}

// FileStore persists entries as a JSON array.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path. The parent directory is created on
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file; a missing file is an empty log.
func (s *FileStore) Load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt error log %s: %w", s.path, err)
	}
	return entries, nil
}

// Save writes atomically via a temp file and rename.
func (s *FileStore) Save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := sonic.Marshal(entries)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemoryStore keeps entries in memory only.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) Save(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]Entry, len(entries))
	copy(s.entries, entries)
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
