package updates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

// Manifest is the update server's description of the latest bundle for a
// runtime version and channel.
type Manifest struct {
	ID             string    `json:"id"`
	RuntimeVersion string    `json:"runtime_version"`
	CreatedAt      time.Time `json:"created_at"`
	BundleURL      string    `json:"bundle_url"`
	SHA256         string    `json:"sha256"`
	// Entry is a file the extracted bundle must contain
	Entry   string `json:"entry,omitempty"`
	Message string `json:"message,omitempty"`
}

// Bundle is an extracted bundle on disk.
type Bundle struct {
	ID             string    `json:"id"`
	Dir            string    `json:"dir"`
	RuntimeVersion string    `json:"runtime_version"`
	CreatedAt      time.Time `json:"created_at"`
	Files          int       `json:"files"`
	Bytes          int64     `json:"bytes"`
}

// State records which bundle runs and which one is staged.
type State struct {
	Current *Bundle `json:"current,omitempty"`
	Pending *Bundle `json:"pending,omitempty"`
}

func (s State) currentID() string {
	if s.Current == nil {
		return ""
	}
	return s.Current.ID
}

func (s State) pendingID() string {
	if s.Pending == nil {
		return ""
	}
	return s.Pending.ID
}

const stateFile = "state.json"

func loadState(dir string) (State, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read update state: %w", err)
	}

	var st State
	if err := sonic.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to decode update state: %w", err)
	}
	return st, nil
}

func saveState(dir string, st State) error {
	data, err := sonic.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode update state: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle dir: %w", err)
	}

	path := filepath.Join(dir, stateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write update state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace update state: %w", err)
	}
	return nil
}
