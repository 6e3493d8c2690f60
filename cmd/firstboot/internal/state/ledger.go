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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// AttemptsFileName is the attempt ledger inside the state directory.
const AttemptsFileName = "attempts"

// AttemptLedger counts entries into failure handling across reboots.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AttemptLedger interface {
	// Count returns the persisted count, 0 if none has been written.
	Count() (int, error)

	// Increment adds one, persists it, and returns the new count.
	Increment() (int, error)

	// Reset persists a count of 0.
	Reset() error
}

// FileAttemptLedger implements AttemptLedger as a one-line text file
// containing a decimal integer.
type FileAttemptLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileAttemptLedger creates a ledger at {stateDir}/attempts.
func NewFileAttemptLedger(stateDir string) *FileAttemptLedger {
	return &FileAttemptLedger{path: filepath.Join(stateDir, AttemptsFileName)}
}

// Path returns the ledger location.
func (l *FileAttemptLedger) Path() string {
	return l.path
}

// Count reads the ledger.
func (l *FileAttemptLedger) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Increment reads, adds one and writes back atomically.
func (l *FileAttemptLedger) Increment() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.read()
	if err != nil {
		return 0, err
	}
	n++
	if err := l.write(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Reset writes 0.
func (l *FileAttemptLedger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(0)
}

func (l *FileAttemptLedger) read() (int, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &pipeline.PersistenceError{Op: "load", Path: l.path, Err: err}
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0, &pipeline.PersistenceError{
			Op:   "load",
			Path: l.path,
			Err:  fmt.Errorf("%w: attempt count %q", pipeline.ErrCorruptRecord, strings.TrimSpace(string(data))),
		}
	}
	return n, nil
}

func (l *FileAttemptLedger) write(n int) error {
	if err := WriteFileAtomic(l.path, []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		return &pipeline.PersistenceError{Op: "save", Path: l.path, Err: err}
	}
	return nil
}

var _ AttemptLedger = (*FileAttemptLedger)(nil)
