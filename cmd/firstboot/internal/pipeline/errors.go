// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Exit codes for the firstboot command.
const (
	ExitSuccess     = 0   // Pipeline complete, or already complete
	ExitDegraded    = 1   // Recovery exhausted, fallback ran
	ExitBadArgs     = 2   // Invalid invocation or concurrent run
	ExitPersistence = 3   // Durable state unreadable or unwritable
	ExitInterrupted = 130 // SIGINT/SIGTERM during a stage
)

// Sentinel errors.
var (
	// Record errors
	ErrInvalidStage    = errors.New("invalid stage")
	ErrCorruptRecord   = errors.New("record is corrupted")
	ErrVersionMismatch = errors.New("record format version mismatch")
	ErrStageRegression = errors.New("stage may not move backwards within a run")

	// Invocation errors
	ErrInvalidInvocation = errors.New("invalid invocation")
	ErrInterrupted       = errors.New("interrupted")
	ErrDegraded          = errors.New("recovery exhausted, machine left in degraded mode")
)

// StageError reports a failed collaborator call inside a stage.
//
// StageErrors are always classified and recovered by the orchestrator and
// never reach the CLI.
type StageError struct {
	Stage    Stage
	Err      error
	TimedOut bool
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("stage %s timed out: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err for stage, marking deadline expiry as a timeout.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{
		Stage:    stage,
		Err:      err,
		TimedOut: errors.Is(err, context.DeadlineExceeded),
	}
}

// PersistenceError reports that a durable record could not be read or
// atomically written. It is always fatal.
type PersistenceError struct {
	Op   string // load, save, reset
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConcurrentRunError reports that another firstboot process is running.
type ConcurrentRunError struct {
	PID int // 0 if unknown
}

// Error implements the error interface.
func (e *ConcurrentRunError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("another firstboot run is in progress (pid %d)", e.PID)
	}
	return "another firstboot run is in progress"
}

// ExitCodeFor maps an error returned by a command to a process exit code.
//
// A stage regression means the status record can no longer be trusted and
// maps to ExitPersistence. Unrecognised errors map to ExitDegraded.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var concurrent *ConcurrentRunError
	var persistence *PersistenceError
	switch {
	case errors.As(err, &concurrent), errors.Is(err, ErrInvalidInvocation):
		return ExitBadArgs
	case errors.As(err, &persistence), errors.Is(err, ErrStageRegression):
		return ExitPersistence
	case errors.Is(err, ErrInterrupted):
		return ExitInterrupted
	default:
		return ExitDegraded
	}
}
