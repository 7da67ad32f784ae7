// Package snapshot persists and restores the engine's full state: every
// job, resource, and recurring template, atomically written via a
// temp-file-plus-rename so a crash mid-write can never leave a corrupt
// snapshot on disk. Adapted from the teacher's snapshot_manager.go, with
// the persisted shape widened from job-only state to the whole
// types.Snapshot (jobs, resources, templates, config).
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chuliyu/beaverq/pkg/types"
)

var (
	ErrCorruptedSnapshot   = errors.New("snapshot: file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot: schema version is incompatible")
)

const schemaVersion = 1

// Manager handles snapshot persistence at one file path.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager returns a Manager writing to and reading from path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write atomically persists data: it's marshaled to indented JSON, written
// to a temp file, then moved into place with os.Rename (atomic on POSIX).
func (m *Manager) Write(data types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(data)
}

func (m *Manager) writeLocked(data types.Snapshot) error {
	data.SchemaVer = schemaVersion

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot from disk, returning an empty-but-initialized
// Snapshot if none exists yet (first startup).
func (m *Manager) Load() (types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data types.Snapshot

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptySnapshot(), nil
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != schemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, schemaVersion)
	}

	if data.Jobs == nil {
		data.Jobs = make(map[types.JobID]*types.Job)
	}
	if data.Resources == nil {
		data.Resources = make(map[string]*types.ResourceState)
	}
	if data.Templates == nil {
		data.Templates = make(map[types.JobID]*types.RecurringTemplate)
	}
	return data, nil
}

func emptySnapshot() types.Snapshot {
	return types.Snapshot{
		Jobs:      make(map[types.JobID]*types.Job),
		Resources: make(map[string]*types.ResourceState),
		Templates: make(map[types.JobID]*types.RecurringTemplate),
		Config:    types.NewConfig(),
		SchemaVer: schemaVersion,
	}
}

// Exists reports whether a snapshot file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the configured snapshot file path.
func (m *Manager) GetPath() string {
	return m.path
}

// WriteWithBackup renames any existing snapshot aside (timestamped) before
// writing the new one, so a write that fails partway never destroys the
// last good snapshot.
func (m *Manager) WriteWithBackup(data types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path); err == nil {
		backupPath := fmt.Sprintf("%s.%s", m.path, time.Now().Format("20060102_150405"))
		if err := os.Rename(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
	}
	return m.writeLocked(data)
}
