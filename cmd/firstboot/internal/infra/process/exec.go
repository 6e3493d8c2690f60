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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ProcessManager runs external commands.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ProcessManager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Inputs
	//
	//   - ctx: Cancelling ctx kills the process.
	//   - name: Executable name or path.
	//   - args: Command arguments.
	//
	// # Outputs
	//
	//   - []byte: Captured stdout.
	//   - error: *CommandError when the command ran and failed, or the
	//     context error when ctx ended first.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// WaitDelay bounds how long Run waits for output pipes after the process
// group has been killed.
const WaitDelay = 5 * time.Second

// DefaultProcessManager implements ProcessManager using os/exec.
//
// Each command runs in its own process group. Cancelling ctx kills the
// whole group, so children a collaborator forks do not outlive the stage.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates a new DefaultProcessManager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously and returns its output.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w", CommandLine(name, args...), ctxErr)
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return stdout.Bytes(), NewCommandError(CommandLine(name, args...), exitCode, stderr.String(), err)
}

// CommandLine renders a command for logs and error messages.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// -----------------------------------------------------------------------------
// Command Error
// -----------------------------------------------------------------------------

// CommandError wraps a command execution failure with stderr context.
//
//	var cmdErr *process.CommandError
//	if errors.As(err, &cmdErr) {
//	    logger.Debug("collaborator stderr", "stderr", cmdErr.Stderr)
//	}
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted error message.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, lastLine(e.Stderr))
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// NewCommandError creates a CommandError. Stderr is trimmed.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// lastLine keeps error messages to one line; tools like ansible-playbook
// print pages of stderr and the last line carries the verdict.
func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockProcessManager is a test double for ProcessManager.
//
// RunFunc must be set before Run is called.
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "systemctl" && args[0] == "is-active" {
//	            return []byte("active\n"), nil
//	        }
//	        return nil, nil
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// Calls records all invocations for verification
	Calls []ProcessManagerCall

	mu sync.Mutex
}

// ProcessManagerCall records a single invocation.
type ProcessManagerCall struct {
	Name string
	Args []string
}

// String renders the call as a command line.
func (c ProcessManagerCall) String() string {
	return CommandLine(c.Name, c.Args...)
}

// Run delegates to RunFunc and records the call.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ProcessManagerCall{Name: name, Args: append([]string(nil), args...)})
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return fn(ctx, name, args...)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []ProcessManagerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ProcessManagerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// CommandLines returns every recorded call rendered with CommandLine.
func (m *MockProcessManager) CommandLines() []string {
	calls := m.GetCalls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Compile-time interface compliance check.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
