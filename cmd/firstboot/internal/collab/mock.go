// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Mock Implementations for Testing
// -----------------------------------------------------------------------------

// CallLog records mock invocations as "Method arg..." strings.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *CallLog) record(method string, args ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, strings.TrimSpace(method+" "+strings.Join(args, " ")))
}

// Calls returns a copy of the recorded calls.
func (c *CallLog) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Count returns how many recorded calls start with prefix.
func (c *CallLog) Count(prefix string) int {
	n := 0
	for _, call := range c.Calls() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// MockNetwork is a test double for Network. Nil funcs succeed.
type MockNetwork struct {
	CallLog
	BringUpFunc      func(ctx context.Context, iface string) error
	ConnectivityFunc func(ctx context.Context, host string) bool
}

// BringUp records the call and delegates to BringUpFunc.
func (m *MockNetwork) BringUp(ctx context.Context, iface string) error {
	m.record("BringUp", iface)
	if m.BringUpFunc == nil {
		return nil
	}
	return m.BringUpFunc(ctx, iface)
}

// ConnectivityCheck records the call and delegates to ConnectivityFunc.
func (m *MockNetwork) ConnectivityCheck(ctx context.Context, host string, _ time.Duration) bool {
	m.record("ConnectivityCheck", host)
	if m.ConnectivityFunc == nil {
		return true
	}
	return m.ConnectivityFunc(ctx, host)
}

// MockSource is a test double for Source. Nil FetchFunc succeeds.
type MockSource struct {
	CallLog
	FetchFunc func(ctx context.Context, url, dest string) error
}

// Fetch records the call and delegates to FetchFunc.
func (m *MockSource) Fetch(ctx context.Context, url, dest string) error {
	m.record("Fetch", url, dest)
	if m.FetchFunc == nil {
		return nil
	}
	return m.FetchFunc(ctx, url, dest)
}

// MockRunner is a test double for Runner. Nil BootstrapFunc succeeds.
type MockRunner struct {
	CallLog
	BootstrapFunc func(ctx context.Context, tags []string) error
}

// Bootstrap records the call and delegates to BootstrapFunc.
func (m *MockRunner) Bootstrap(ctx context.Context, tags []string) error {
	m.record("Bootstrap", strings.Join(tags, ","))
	if m.BootstrapFunc == nil {
		return nil
	}
	return m.BootstrapFunc(ctx, tags)
}

// MockPackageManager is a test double for PackageManager.
type MockPackageManager struct {
	CallLog
	InstallFunc func(ctx context.Context, pkgs []string) error
}

// InstallDeps records the call and delegates to InstallFunc.
func (m *MockPackageManager) InstallDeps(ctx context.Context, pkgs []string) error {
	m.record("InstallDeps", pkgs...)
	if m.InstallFunc == nil {
		return nil
	}
	return m.InstallFunc(ctx, pkgs)
}

// MockServiceManager is a test double for ServiceManager.
//
// Status returns Units[name] when set, UnitActive otherwise. Funcs that
// model a unit healing call SetUnit.
type MockServiceManager struct {
	CallLog
	StartFunc   func(ctx context.Context, name string) error
	EnableFunc  func(ctx context.Context, name string) error
	RestartFunc func(ctx context.Context, name string) error
	Units       map[string]UnitStatus

	unitsMu sync.Mutex
}

// Start records the call and delegates to StartFunc.
func (m *MockServiceManager) Start(ctx context.Context, name string) error {
	m.record("Start", name)
	return m.apply(ctx, name, m.StartFunc)
}

// Enable records the call and delegates to EnableFunc.
func (m *MockServiceManager) Enable(ctx context.Context, name string) error {
	m.record("Enable", name)
	if m.EnableFunc == nil {
		return nil
	}
	return m.EnableFunc(ctx, name)
}

// Restart records the call and delegates to RestartFunc.
func (m *MockServiceManager) Restart(ctx context.Context, name string) error {
	m.record("Restart", name)
	return m.apply(ctx, name, m.RestartFunc)
}

// Status records the call and reports Units[name].
func (m *MockServiceManager) Status(_ context.Context, name string) UnitStatus {
	m.record("Status", name)
	m.unitsMu.Lock()
	defer m.unitsMu.Unlock()
	if s, ok := m.Units[name]; ok {
		return s
	}
	return UnitActive
}

// SetUnit sets the status Status reports for name.
func (m *MockServiceManager) SetUnit(name string, status UnitStatus) {
	m.unitsMu.Lock()
	defer m.unitsMu.Unlock()
	if m.Units == nil {
		m.Units = make(map[string]UnitStatus)
	}
	m.Units[name] = status
}

func (m *MockServiceManager) apply(ctx context.Context, name string, fn func(context.Context, string) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, name)
}

// MockAccountManager is a test double for AccountManager.
type MockAccountManager struct {
	CallLog
	EnsureGroupFunc func(ctx context.Context, user, group string) error
}

// EnsureGroup records the call and delegates to EnsureGroupFunc.
func (m *MockAccountManager) EnsureGroup(ctx context.Context, user, group string) error {
	m.record("EnsureGroup", user, group)
	if m.EnsureGroupFunc == nil {
		return nil
	}
	return m.EnsureGroupFunc(ctx, user, group)
}

// NewMockCollaborators returns Collaborators backed by fresh mocks whose
// defaults all succeed.
func NewMockCollaborators() (Collaborators, *Mocks) {
	m := &Mocks{
		Network:  &MockNetwork{},
		Source:   &MockSource{},
		Runner:   &MockRunner{},
		Packages: &MockPackageManager{},
		Services: &MockServiceManager{},
		Accounts: &MockAccountManager{},
	}
	return Collaborators{
		Network:  m.Network,
		Source:   m.Source,
		Runner:   m.Runner,
		Packages: m.Packages,
		Services: m.Services,
		Accounts: m.Accounts,
	}, m
}

// Mocks exposes the concrete mocks behind NewMockCollaborators.
type Mocks struct {
	Network  *MockNetwork
	Source   *MockSource
	Runner   *MockRunner
	Packages *MockPackageManager
	Services *MockServiceManager
	Accounts *MockAccountManager
}

// String summarises recorded calls, for test failure messages.
func (m *Mocks) String() string {
	var b strings.Builder
	for _, log := range []*CallLog{
		&m.Network.CallLog, &m.Source.CallLog, &m.Runner.CallLog,
		&m.Packages.CallLog, &m.Services.CallLog, &m.Accounts.CallLog,
	} {
		for _, c := range log.Calls() {
			fmt.Fprintln(&b, c)
		}
	}
	return b.String()
}

var (
	_ Network        = (*MockNetwork)(nil)
	_ Source         = (*MockSource)(nil)
	_ Runner         = (*MockRunner)(nil)
	_ PackageManager = (*MockPackageManager)(nil)
	_ ServiceManager = (*MockServiceManager)(nil)
	_ AccountManager = (*MockAccountManager)(nil)
)
