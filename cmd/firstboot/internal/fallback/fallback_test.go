// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

func networkReport() Report {
	return Report{
		RunID: "6f1c",
		Status: pipeline.PipelineStatus{
			Stage: pipeline.StageNetworkBringUp,
			State: pipeline.StateFailed,
		},
		Domain:      pipeline.DomainNetwork,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "nmcli (exit 10): Error: No suitable device found",
	}
}

func newInitializer(t *testing.T, mocks *collab.Mocks, cfg Config) *Initializer {
	t.Helper()
	if cfg.StateDir == "" {
		cfg.StateDir = t.TempDir()
	}
	fb := NewInitializer(mocks.Services, mocks.Accounts, cfg, nil)
	fb.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return fb
}

func TestInitializer_Enter(t *testing.T) {
	_, mocks := collab.NewMockCollaborators()
	fb := newInitializer(t, mocks, Config{PrimaryUser: "alice"})

	require.NoError(t, fb.Enter(context.Background(), networkReport()))

	assert.Equal(t, []string{
		"Enable NetworkManager", "Start NetworkManager",
		"Enable sshd", "Start sshd",
		"Enable systemd-timesyncd", "Start systemd-timesyncd",
	}, mocks.Services.Calls())
	assert.Equal(t, []string{"EnsureGroup alice wheel"}, mocks.Accounts.Calls())

	data, err := os.ReadFile(fb.InstructionsPath())
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "Failed stage:    network-bring-up (1/5)")
	assert.Contains(t, text, "Failure domain:  network")
	assert.Contains(t, text, "Attempts:        3 of 3")
	assert.Contains(t, text, "No suitable device found")
	assert.Contains(t, text, "service sshd: ok")
	assert.Contains(t, text, "user alice in group wheel: ok")
	assert.Contains(t, text, "Resume provisioning:     firstboot run\n")
	assert.Contains(t, text, "Start over from stage 1: firstboot reset --confirm && firstboot run")
	assert.Contains(t, text, "2026-01-02T03:04:05Z")
}

// TestInitializer_EnterIsBestEffort tests that a failing step neither stops
// later steps nor prevents the instructions file.
func TestInitializer_EnterIsBestEffort(t *testing.T) {
	_, mocks := collab.NewMockCollaborators()
	mocks.Services.StartFunc = func(ctx context.Context, name string) error {
		if name == "sshd" {
			return errors.New("unit sshd.service not found")
		}
		return nil
	}
	mocks.Accounts.EnsureGroupFunc = func(ctx context.Context, user, group string) error {
		return errors.New("no such user")
	}
	fb := newInitializer(t, mocks, Config{PrimaryUser: "alice", AdminGroup: "admin"})

	err := fb.Enter(context.Background(), networkReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service sshd")
	assert.Contains(t, err.Error(), "no such user")

	assert.Equal(t, 1, mocks.Services.Count("Start systemd-timesyncd"))
	assert.Equal(t, 1, mocks.Services.Count("Start sshd"), "failed steps are not retried")

	data, rerr := os.ReadFile(fb.InstructionsPath())
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "service sshd: FAILED: unit sshd.service not found")
	assert.Contains(t, string(data), "user alice in group admin: FAILED: no such user")
}

func TestInitializer_CustomServicesNoUser(t *testing.T) {
	_, mocks := collab.NewMockCollaborators()
	fb := newInitializer(t, mocks, Config{Services: []string{"sshd"}})

	require.NoError(t, fb.Enter(context.Background(), Report{
		Status: pipeline.PipelineStatus{Stage: pipeline.StageEnvironmentProvision, State: pipeline.StateFailed},
		Domain: pipeline.DomainEnvironmentProvision,
	}))

	assert.Equal(t, []string{"Enable sshd", "Start sshd"}, mocks.Services.Calls())
	assert.Empty(t, mocks.Accounts.Calls())

	data, err := os.ReadFile(fb.InstructionsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Failure domain:  environment-provision")
	assert.Contains(t, string(data), "Run:             -")
}

func TestInitializer_Overwrites(t *testing.T) {
	_, mocks := collab.NewMockCollaborators()
	fb := newInitializer(t, mocks, Config{})

	first := networkReport()
	require.NoError(t, fb.Enter(context.Background(), first))

	second := networkReport()
	second.Domain = pipeline.DomainSourceFetch
	require.NoError(t, fb.Enter(context.Background(), second))

	data, err := os.ReadFile(fb.InstructionsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Failure domain:  source-fetch")
	assert.NotContains(t, string(data), "Failure domain:  network")
}

func TestInitializer_UnwritableStateDir(t *testing.T) {
	dir := t.TempDir()
	blocker := dir + "/file"
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, mocks := collab.NewMockCollaborators()
	fb := newInitializer(t, mocks, Config{StateDir: blocker + "/state"})

	err := fb.Enter(context.Background(), networkReport())
	require.Error(t, err)
	assert.Equal(t, 6, len(mocks.Services.Calls()))
}
