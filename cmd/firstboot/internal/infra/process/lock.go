// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// Lock and PID file names inside the state directory.
const (
	LockFileName = "run.lock"
	PIDFileName  = "run.pid"
)

// RunLock prevents two pipeline invocations from mutating the same state
// using flock(2).
//
// # How It Works
//
//  1. Opens (creating if needed) {dir}/run.lock
//  2. Attempts a non-blocking exclusive flock
//  3. Writes "pid=N\ntime=RFC3339\n" to {dir}/run.pid
//  4. On release removes run.pid and drops the flock
//
// The kernel drops the flock if the process dies, so a crash or reboot
// never leaves the pipeline permanently locked. run.pid may outlive a
// crash; Holder reports whether that PID is still alive.
//
// # Thread Safety
//
// RunLock is NOT safe for concurrent use. Use from main only.
type RunLock struct {
	lockPath string
	pidPath  string
	file     *os.File
}

// NewRunLock creates a RunLock for the given state directory.
// The lock is not acquired.
func NewRunLock(stateDir string) *RunLock {
	return &RunLock{
		lockPath: filepath.Join(stateDir, LockFileName),
		pidPath:  filepath.Join(stateDir, PIDFileName),
	}
}

// Acquire attempts to take the exclusive run lock.
//
// # Outputs
//
//   - error: nil if acquired (or already held by this instance),
//     *pipeline.ConcurrentRunError if another process holds it, or a
//     wrapped system error.
func (l *RunLock) Acquire() error {
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := readPIDFile(l.pidPath)
			return &pipeline.ConcurrentRunError{PID: pid}
		}
		return fmt.Errorf("flock %s: %w", l.lockPath, err)
	}

	l.file = f

	// The PID file is informational; the flock is the lock.
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = os.WriteFile(l.pidPath, []byte(content), 0o644)

	return nil
}

// Release drops the lock and removes the PID file. Safe to call twice.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}

	_ = os.Remove(l.pidPath)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// LockHolder describes the process recorded in run.pid.
type LockHolder struct {
	PID   int
	Alive bool
}

// Holder reads run.pid and checks whether the recorded process exists.
//
// Returns a zero LockHolder when no PID file exists.
func (l *RunLock) Holder() LockHolder {
	pid, err := readPIDFile(l.pidPath)
	if err != nil || pid <= 0 {
		return LockHolder{}
	}
	return LockHolder{PID: pid, Alive: processAlive(pid)}
}

// readPIDFile parses "pid=12345" from the PID file.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid="); ok {
			return strconv.Atoi(v)
		}
	}
	return 0, fmt.Errorf("no pid in %s", path)
}

// processAlive sends signal 0 to pid.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
