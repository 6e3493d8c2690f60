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
	"time"
)

// UnitStatus is the health of a service unit.
type UnitStatus string

const (
	UnitActive   UnitStatus = "active"
	UnitInactive UnitStatus = "inactive"
	UnitFailed   UnitStatus = "failed"
)

// Network brings interfaces up and checks reachability.
type Network interface {
	// BringUp activates iface using its known connection profile.
	BringUp(ctx context.Context, iface string) error

	// ConnectivityCheck reports whether host ("name:port") accepts a
	// connection within timeout.
	ConnectivityCheck(ctx context.Context, host string, timeout time.Duration) bool
}

// Source fetches the configuration source tree.
type Source interface {
	// Fetch copies url into dest. dest must not exist.
	Fetch(ctx context.Context, url, dest string) error
}

// Runner applies configuration from the source tree.
type Runner interface {
	// Bootstrap runs the configuration entry point restricted to tags.
	Bootstrap(ctx context.Context, tags []string) error
}

// PackageManager installs system packages.
type PackageManager interface {
	// InstallDeps installs pkgs, skipping those already present.
	InstallDeps(ctx context.Context, pkgs []string) error
}

// ServiceManager controls service units.
type ServiceManager interface {
	Start(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Status(ctx context.Context, name string) UnitStatus
}

// AccountManager manages local accounts.
type AccountManager interface {
	// EnsureGroup adds user to group unless already a member.
	EnsureGroup(ctx context.Context, user, group string) error
}

// Collaborators bundles every collaborator the pipeline uses.
type Collaborators struct {
	Network  Network
	Source   Source
	Runner   Runner
	Packages PackageManager
	Services ServiceManager
	Accounts AccountManager
}
