// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// StatusFileName is the status record inside the state directory.
const StatusFileName = "status.json"

// StatusStore persists the single PipelineStatus record.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type StatusStore interface {
	// Load returns the persisted status, or pipeline.InitialStatus() when
	// none has been written. Returns *pipeline.PersistenceError when the
	// record exists but is unreadable or fails validation.
	Load() (pipeline.PipelineStatus, error)

	// Save atomically replaces the record. Timestamp, FormatVersion and
	// TotalStages are filled in by the store.
	Save(status pipeline.PipelineStatus) error

	// Reset removes the record. A missing record is not an error.
	Reset() error
}

// FileStatusStore implements StatusStore as a JSON file.
type FileStatusStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileStatusStore creates a store for {stateDir}/status.json.
// No files are touched until Save.
func NewFileStatusStore(stateDir string) *FileStatusStore {
	return &FileStatusStore{
		path: filepath.Join(stateDir, StatusFileName),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the record location.
func (s *FileStatusStore) Path() string {
	return s.path
}

// Load reads and validates status.json.
//
// # Outputs
//
//   - pipeline.PipelineStatus: The record, or InitialStatus if absent.
//   - error: *pipeline.PersistenceError wrapping pipeline.ErrCorruptRecord
//     or pipeline.ErrVersionMismatch for bad content, or the I/O error.
func (s *FileStatusStore) Load() (pipeline.PipelineStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return pipeline.InitialStatus(), nil
	}
	if err != nil {
		return pipeline.PipelineStatus{}, &pipeline.PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	var status pipeline.PipelineStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return pipeline.PipelineStatus{}, &pipeline.PersistenceError{
			Op:   "load",
			Path: s.path,
			Err:  fmt.Errorf("%w: %v", pipeline.ErrCorruptRecord, err),
		}
	}
	if err := status.Validate(); err != nil {
		return pipeline.PipelineStatus{}, &pipeline.PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return status, nil
}

// Save stamps and atomically writes the record.
func (s *FileStatusStore) Save(status pipeline.PipelineStatus) error {
	status.FormatVersion = pipeline.FormatVersion
	status.TotalStages = pipeline.TotalStages
	status.Timestamp = s.now()

	if err := status.Validate(); err != nil {
		return &pipeline.PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return &pipeline.PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(s.path, data, 0o644); err != nil {
		return &pipeline.PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Reset removes status.json.
func (s *FileStatusStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &pipeline.PersistenceError{Op: "reset", Path: s.path, Err: err}
	}
	return syncDirIfExists(filepath.Dir(s.path))
}

func syncDirIfExists(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := syncDir(dir); err != nil {
		return &pipeline.PersistenceError{Op: "reset", Path: dir, Err: err}
	}
	return nil
}

var _ StatusStore = (*FileStatusStore)(nil)
