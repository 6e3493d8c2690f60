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
	"log/slog"
	"strings"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
)

// =============================================================================
// Package Manager
// =============================================================================

// DefaultInstallCommand installs packages on Arch-based images.
var DefaultInstallCommand = []string{"pacman", "-S", "--needed", "--noconfirm"}

// CommandPackageManager implements PackageManager by appending package
// names to a fixed install command.
type CommandPackageManager struct {
	pm      process.ProcessManager
	command []string
}

// NewCommandPackageManager creates a CommandPackageManager. An empty
// command uses DefaultInstallCommand.
func NewCommandPackageManager(pm process.ProcessManager, command []string) *CommandPackageManager {
	if len(command) == 0 {
		command = DefaultInstallCommand
	}
	return &CommandPackageManager{pm: pm, command: command}
}

// InstallDeps installs pkgs. No packages is a no-op.
func (p *CommandPackageManager) InstallDeps(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	args := append(append([]string(nil), p.command[1:]...), pkgs...)
	if _, err := p.pm.Run(ctx, p.command[0], args...); err != nil {
		return fmt.Errorf("installing %s: %w", strings.Join(pkgs, " "), err)
	}
	return nil
}

// =============================================================================
// Service Manager
// =============================================================================

// SystemdServiceManager implements ServiceManager with systemctl.
type SystemdServiceManager struct {
	pm     process.ProcessManager
	logger *slog.Logger
}

// NewSystemdServiceManager creates a SystemdServiceManager.
func NewSystemdServiceManager(pm process.ProcessManager, logger *slog.Logger) *SystemdServiceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemdServiceManager{pm: pm, logger: logger}
}

// Start runs "systemctl start name".
func (s *SystemdServiceManager) Start(ctx context.Context, name string) error {
	return s.systemctl(ctx, "start", name)
}

// Enable runs "systemctl enable name".
func (s *SystemdServiceManager) Enable(ctx context.Context, name string) error {
	return s.systemctl(ctx, "enable", name)
}

// Restart runs "systemctl restart name".
func (s *SystemdServiceManager) Restart(ctx context.Context, name string) error {
	return s.systemctl(ctx, "restart", name)
}

// Status maps "systemctl is-active" output to a UnitStatus. is-active
// exits non-zero for anything but active, so only stdout is consulted.
func (s *SystemdServiceManager) Status(ctx context.Context, name string) UnitStatus {
	out, err := s.pm.Run(ctx, "systemctl", "is-active", name)
	switch strings.TrimSpace(string(out)) {
	case "active":
		return UnitActive
	case "failed":
		return UnitFailed
	default:
		if err != nil {
			s.logger.Debug("unit not active", "unit", name, "error", err)
		}
		return UnitInactive
	}
}

func (s *SystemdServiceManager) systemctl(ctx context.Context, verb, name string) error {
	if _, err := s.pm.Run(ctx, "systemctl", verb, name); err != nil {
		return fmt.Errorf("%s %s: %w", verb, name, err)
	}
	return nil
}

// =============================================================================
// Account Manager
// =============================================================================

// LocalAccountManager implements AccountManager with id and usermod.
type LocalAccountManager struct {
	pm process.ProcessManager
}

// NewLocalAccountManager creates a LocalAccountManager.
func NewLocalAccountManager(pm process.ProcessManager) *LocalAccountManager {
	return &LocalAccountManager{pm: pm}
}

// EnsureGroup adds user to group if "id -nG user" does not list it.
func (a *LocalAccountManager) EnsureGroup(ctx context.Context, user, group string) error {
	out, err := a.pm.Run(ctx, "id", "-nG", user)
	if err != nil {
		return fmt.Errorf("listing groups of %s: %w", user, err)
	}
	for _, g := range strings.Fields(string(out)) {
		if g == group {
			return nil
		}
	}
	if _, err := a.pm.Run(ctx, "usermod", "-aG", group, user); err != nil {
		return fmt.Errorf("adding %s to %s: %w", user, group, err)
	}
	return nil
}

// UnhealthyUnits returns an error naming every unit that is not active.
func UnhealthyUnits(ctx context.Context, services ServiceManager, units []string) error {
	var bad []string
	for _, u := range units {
		if s := services.Status(ctx, u); s != UnitActive {
			bad = append(bad, u+"="+string(s))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("units not active: %s", strings.Join(bad, ", "))
	}
	return nil
}

var (
	_ PackageManager = (*CommandPackageManager)(nil)
	_ ServiceManager = (*SystemdServiceManager)(nil)
	_ AccountManager = (*LocalAccountManager)(nil)
)
