// Package id provides centralized ID generation for the launcher.
//
// IDs are prefixed ULIDs: lexicographically sortable by creation time and
// readable in logs (err_*, evt_*, launch_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntryID identifies an error log entry
type EntryID string

// EventID identifies an event sent to the error reporter
type EventID string

// LaunchID identifies one process launch
type LaunchID string

// SpanID identifies a startup trace span
type SpanID string

// UserID identifies a local user account
type UserID string

const (
	EntryPrefix  = "err"
	EventPrefix  = "evt"
	LaunchPrefix = "launch"
	SpanPrefix   = "span"
	UserPrefix   = "user"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewEntryID generates a new error log entry ID
func NewEntryID() EntryID {
	return EntryID(Default().GenerateWithPrefix(EntryPrefix))
}

// NewEventID generates a new reporter event ID
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

// NewLaunchID generates a new launch ID
func NewLaunchID() LaunchID {
	return LaunchID(Default().GenerateWithPrefix(LaunchPrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewUserID generates a new user ID
func NewUserID() UserID {
	return UserID(Default().GenerateWithPrefix(UserPrefix))
}

func (id EntryID) String() string  { return string(id) }
func (id EventID) String() string  { return string(id) }
func (id LaunchID) String() string { return string(id) }
func (id SpanID) String() string   { return string(id) }
func (id UserID) String() string   { return string(id) }

// Timestamp extracts the creation time from a prefixed or bare ULID.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
