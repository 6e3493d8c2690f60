// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_UnregisteredDomainIsExhausted(t *testing.T) {
	r := NewRegistry(nil)

	outcome, err := r.Recover(context.Background(), pipeline.DomainNetwork)
	assert.Equal(t, pipeline.OutcomeExhausted, outcome)
	assert.ErrorIs(t, err, ErrNoProcedure)
	assert.False(t, r.Has(pipeline.DomainNetwork))
}

func TestRegistry_Outcomes(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(pipeline.DomainNetwork, func(ctx context.Context) error { return nil })
	r.Register(pipeline.DomainSourceFetch, func(ctx context.Context) error { return errors.New("mirror gone") })

	outcome, err := r.Recover(context.Background(), pipeline.DomainNetwork)
	assert.Equal(t, pipeline.OutcomeRestored, outcome)
	assert.NoError(t, err)

	outcome, err = r.Recover(context.Background(), pipeline.DomainSourceFetch)
	assert.Equal(t, pipeline.OutcomeExhausted, outcome)
	assert.ErrorContains(t, err, "mirror gone")
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(pipeline.DomainNetwork, func(ctx context.Context) error { return errors.New("old") })
	r.Register(pipeline.DomainNetwork, func(ctx context.Context) error { return nil })

	outcome, _ := r.Recover(context.Background(), pipeline.DomainNetwork)
	assert.Equal(t, pipeline.OutcomeRestored, outcome)
}

func TestRegistry_ChainStopsAtFirstFailure(t *testing.T) {
	r := NewRegistry(nil)
	var order []pipeline.FailureDomain
	step := func(d pipeline.FailureDomain, err error) Procedure {
		return func(ctx context.Context) error {
			order = append(order, d)
			return err
		}
	}
	r.Register(pipeline.DomainNetwork, step(pipeline.DomainNetwork, nil))
	r.Register(pipeline.DomainSourceFetch, step(pipeline.DomainSourceFetch, errors.New("nope")))
	r.Register(pipeline.DomainConfigurationBootstrap, step(pipeline.DomainConfigurationBootstrap, nil))

	err := r.Chain(pipeline.DomainNetwork, pipeline.DomainSourceFetch, pipeline.DomainConfigurationBootstrap)(context.Background())
	require.Error(t, err)
	assert.Equal(t, []pipeline.FailureDomain{pipeline.DomainNetwork, pipeline.DomainSourceFetch}, order)
}

// =============================================================================
// Default Procedure Tests
// =============================================================================

type fixture struct {
	registry *Registry
	mocks    *collab.Mocks
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, mocks := collab.NewMockCollaborators()
	root := t.TempDir()
	f := &fixture{registry: NewRegistry(nil), mocks: mocks}

	srcDir := filepath.Join(root, "source")
	mocks.Source.FetchFunc = func(ctx context.Context, url, dest string) error {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dest, "site.yml"), []byte("---\n"), 0o644)
	}

	f.deps = Deps{
		Collab:              c,
		NetworkUnit:         "NetworkManager",
		Interface:           "eth0",
		ConnectivityHost:    "archlinux.org:443",
		ConnectivityTimeout: time.Second,
		Backoff:             BackoffConfig{Initial: time.Millisecond, Multiplier: 1.5, MaxElapsed: 50 * time.Millisecond},
		SourceURL:           "https://example.org/cfg.git",
		SourceDir:           srcDir,
		SourceMarkers:       []string{"site.yml"},
		SourceMinBytes:      1,
		RunnerDeps:          []string{"ansible"},
		EssentialTags:       []string{"essential"},
		DefaultsTags:        []string{"defaults"},
		UserUnits:           []string{"gdm"},
		UserConfigPaths:     []string{filepath.Join(root, "home", ".config")},
		Now:                 func() time.Time { return time.Unix(1700000000, 0) },
	}
	RegisterDefaults(f.registry, f.deps)
	return f
}

func (f *fixture) recover(t *testing.T, d pipeline.FailureDomain) pipeline.RecoveryOutcome {
	t.Helper()
	outcome, _ := f.registry.Recover(context.Background(), d)
	return outcome
}

func TestRegisterDefaults_EveryDomain(t *testing.T) {
	f := newFixture(t)
	for _, d := range pipeline.Domains() {
		assert.True(t, f.registry.Has(d), d)
	}
}

func TestNetworkProcedure_Restored(t *testing.T) {
	f := newFixture(t)
	var checks atomic.Int32
	f.mocks.Network.ConnectivityFunc = func(ctx context.Context, host string) bool {
		return checks.Add(1) >= 3
	}

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainNetwork))
	assert.Equal(t, []string{"Restart NetworkManager"}, f.mocks.Services.Calls())
	assert.Equal(t, 1, f.mocks.Network.Count("BringUp eth0"))
	assert.Equal(t, int32(3), checks.Load())
}

func TestNetworkProcedure_ExhaustedAfterBackoff(t *testing.T) {
	f := newFixture(t)
	f.mocks.Network.ConnectivityFunc = func(ctx context.Context, host string) bool { return false }

	start := time.Now()
	outcome, err := f.registry.Recover(context.Background(), pipeline.DomainNetwork)
	assert.Equal(t, pipeline.OutcomeExhausted, outcome)
	assert.ErrorIs(t, err, ErrStillUnreachable)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Greater(t, f.mocks.Network.Count("ConnectivityCheck"), 1)
}

func TestNetworkProcedure_ToleratesRestartFailure(t *testing.T) {
	f := newFixture(t)
	f.mocks.Services.RestartFunc = func(ctx context.Context, name string) error { return errors.New("unit not found") }

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainNetwork))
}

func TestSourceFetchProcedure_RefetchesOverPartialCopy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.deps.SourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.deps.SourceDir, "half-written"), nil, 0o644))

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainSourceFetch))

	_, err := os.Stat(filepath.Join(f.deps.SourceDir, "half-written"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, f.mocks.Services.Count("Restart"))
	assert.Equal(t, 1, f.mocks.Source.Count("Fetch"))
}

func TestSourceFetchProcedure_DelegatesToNetwork(t *testing.T) {
	f := newFixture(t)
	var checks atomic.Int32
	f.mocks.Network.ConnectivityFunc = func(ctx context.Context, host string) bool {
		return checks.Add(1) > 1
	}

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainSourceFetch))
	assert.Equal(t, []string{"Restart NetworkManager"}, f.mocks.Services.Calls())
	assert.Equal(t, 1, f.mocks.Source.Count("Fetch"))
}

func TestSourceFetchProcedure_ExhaustedWhenNetworkIs(t *testing.T) {
	f := newFixture(t)
	f.mocks.Network.ConnectivityFunc = func(ctx context.Context, host string) bool { return false }

	assert.Equal(t, pipeline.OutcomeExhausted, f.recover(t, pipeline.DomainSourceFetch))
	assert.Equal(t, 0, f.mocks.Source.Count("Fetch"))
}

func TestSourceFetchProcedure_MissingMarkersExhausted(t *testing.T) {
	f := newFixture(t)
	f.mocks.Source.FetchFunc = func(ctx context.Context, url, dest string) error {
		return os.MkdirAll(dest, 0o755)
	}

	outcome, err := f.registry.Recover(context.Background(), pipeline.DomainSourceFetch)
	assert.Equal(t, pipeline.OutcomeExhausted, outcome)
	assert.ErrorContains(t, err, "missing site.yml")
}

func TestSourceFetchProcedure_EmptyMarkerExhausted(t *testing.T) {
	f := newFixture(t)
	f.mocks.Source.FetchFunc = func(ctx context.Context, url, dest string) error {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dest, "site.yml"), nil, 0o644)
	}

	outcome, err := f.registry.Recover(context.Background(), pipeline.DomainSourceFetch)
	assert.Equal(t, pipeline.OutcomeExhausted, outcome)
	assert.ErrorContains(t, err, "truncated site.yml")
}

// TestConfigurationBootstrapProcedure_RefetchesTruncatedTree tests that an
// empty marker left by an interrupted checkout triggers a fresh fetch.
func TestConfigurationBootstrapProcedure_RefetchesTruncatedTree(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.deps.SourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.deps.SourceDir, "site.yml"), nil, 0o644))

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainConfigurationBootstrap))
	assert.Equal(t, 1, f.mocks.Source.Count("Fetch"))

	data, err := os.ReadFile(filepath.Join(f.deps.SourceDir, "site.yml"))
	require.NoError(t, err)
	assert.Equal(t, "---\n", string(data))
}

func TestConfigurationBootstrapProcedure(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainConfigurationBootstrap))
	assert.Equal(t, 1, f.mocks.Source.Count("Fetch"), "markers were absent")
	assert.Equal(t, []string{"InstallDeps ansible"}, f.mocks.Packages.Calls())
	assert.Equal(t, []string{"Bootstrap essential"}, f.mocks.Runner.Calls())

	// Second run finds the tree intact and does not fetch again.
	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainConfigurationBootstrap))
	assert.Equal(t, 1, f.mocks.Source.Count("Fetch"))
}

func TestConfigurationBootstrapProcedure_RunnerFails(t *testing.T) {
	f := newFixture(t)
	f.mocks.Runner.BootstrapFunc = func(ctx context.Context, tags []string) error { return errors.New("play failed") }

	assert.Equal(t, pipeline.OutcomeExhausted, f.recover(t, pipeline.DomainConfigurationBootstrap))
}

func TestEnvironmentProvisionProcedure_RestartSuffices(t *testing.T) {
	f := newFixture(t)
	f.mocks.Services.SetUnit("gdm", collab.UnitFailed)
	f.mocks.Services.RestartFunc = func(ctx context.Context, name string) error {
		f.mocks.Services.SetUnit(name, collab.UnitActive)
		return nil
	}

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainEnvironmentProvision))
	assert.Empty(t, f.mocks.Runner.Calls())
}

// TestEnvironmentProvisionProcedure_MovesConfigAside tests that user
// configuration is preserved under a timestamped name, never deleted.
func TestEnvironmentProvisionProcedure_MovesConfigAside(t *testing.T) {
	f := newFixture(t)
	cfg := f.deps.UserConfigPaths[0]
	require.NoError(t, os.MkdirAll(cfg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg, "settings"), []byte("mine"), 0o644))

	f.mocks.Services.SetUnit("gdm", collab.UnitFailed)
	f.mocks.Runner.BootstrapFunc = func(ctx context.Context, tags []string) error {
		f.mocks.Services.SetUnit("gdm", collab.UnitActive)
		return nil
	}

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainEnvironmentProvision))
	assert.Equal(t, []string{"Bootstrap defaults"}, f.mocks.Runner.Calls())

	data, err := os.ReadFile(filepath.Join(cfg+".firstboot-1700000000000000000.bak", "settings"))
	require.NoError(t, err)
	assert.Equal(t, "mine", string(data))
}

func TestEnvironmentProvisionProcedure_StillUnhealthy(t *testing.T) {
	f := newFixture(t)
	f.mocks.Services.SetUnit("gdm", collab.UnitFailed)

	outcome, err := f.registry.Recover(context.Background(), pipeline.DomainEnvironmentProvision)
	assert.Equal(t, pipeline.OutcomeExhausted, outcome)
	assert.ErrorContains(t, err, "gdm=failed")
	assert.Equal(t, 2, f.mocks.Services.Count("Restart gdm"))
}

func TestUnknownProcedure_RunsChain(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, pipeline.OutcomeRestored, f.recover(t, pipeline.DomainUnknown))
	assert.Equal(t, 1, f.mocks.Services.Count("Restart NetworkManager"))
	assert.Equal(t, 1, f.mocks.Source.Count("Fetch"))
	assert.Equal(t, []string{"Bootstrap essential"}, f.mocks.Runner.Calls())
}

func TestUnknownProcedure_StopsWhenNetworkExhausted(t *testing.T) {
	f := newFixture(t)
	f.mocks.Network.ConnectivityFunc = func(ctx context.Context, host string) bool { return false }

	assert.Equal(t, pipeline.OutcomeExhausted, f.recover(t, pipeline.DomainUnknown))
	assert.Equal(t, 0, f.mocks.Source.Count("Fetch"))
	assert.Empty(t, f.mocks.Runner.Calls())
}

func TestMoveAside_MissingPathSkipped(t *testing.T) {
	dest, err := moveAside(filepath.Join(t.TempDir(), "absent"), 1)
	assert.NoError(t, err)
	assert.Empty(t, dest)
}

// TestMoveAside_SameStampKeepsEarlierBackup tests that two move-asides
// with the same timestamp leave both backups in place.
func TestMoveAside_SameStampKeepsEarlierBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".config")

	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	first, err := moveAside(path, 42)
	require.NoError(t, err)
	assert.Equal(t, path+".firstboot-42.bak", first)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	second, err := moveAside(path, 42)
	require.NoError(t, err)
	assert.Equal(t, path+".firstboot-42-1.bak", second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.NoFileExists(t, path)
}

// TestEnvironmentProvisionProcedure_RepeatedRecoveryKeepsBackups tests that
// recovering twice within one clock tick preserves both copies.
func TestEnvironmentProvisionProcedure_RepeatedRecoveryKeepsBackups(t *testing.T) {
	f := newFixture(t)
	cfg := f.deps.UserConfigPaths[0]
	f.mocks.Services.SetUnit("gdm", collab.UnitFailed)

	for _, content := range []string{"one", "two"} {
		require.NoError(t, os.MkdirAll(cfg, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(cfg, "settings"), []byte(content), 0o644))
		f.recover(t, pipeline.DomainEnvironmentProvision)
	}

	matches, err := filepath.Glob(cfg + ".firstboot-*.bak")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
