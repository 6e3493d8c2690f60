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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// withFault installs faultHook for the duration of the test.
func withFault(t *testing.T, phase string) {
	t.Helper()
	faultHook = func(path, p string) error {
		if p == phase {
			return errors.New("injected fault")
		}
		return nil
	}
	t.Cleanup(func() { faultHook = nil })
}

// leftovers returns any temp files WriteFileAtomic left behind.
func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			names = append(names, e.Name())
		}
	}
	return names
}

// =============================================================================
// WriteFileAtomic Tests
// =============================================================================

func TestWriteFileAtomic_CreatesDirectoryAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "record")

	require.NoError(t, WriteFileAtomic(path, []byte("hello\n"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestWriteFileAtomic_FaultLeavesOldContent tests that an interrupted write
// at any phase leaves the previous content intact and no temp files.
func TestWriteFileAtomic_FaultLeavesOldContent(t *testing.T) {
	for _, phase := range []string{phaseWrite, phaseSync, phaseRename} {
		t.Run(phase, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "record")
			require.NoError(t, WriteFileAtomic(path, []byte("old\n"), 0o644))

			withFault(t, phase)
			err := WriteFileAtomic(path, []byte("new\n"), 0o644)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "injected fault")

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "old\n", string(data))
			assert.Empty(t, leftovers(t, dir))
		})
	}
}

// =============================================================================
// FileStatusStore Tests
// =============================================================================

func TestFileStatusStore_LoadMissingReturnsInitial(t *testing.T) {
	store := NewFileStatusStore(t.TempDir())

	status, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, pipeline.InitialStatus(), status)
	assert.Equal(t, pipeline.StageNetworkBringUp, status.ResumeStage())
}

func TestFileStatusStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStatusStore(dir)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	err := store.Save(pipeline.PipelineStatus{
		RunID:   "run-1",
		Stage:   pipeline.StageSourceAcquire,
		State:   pipeline.StateFailed,
		Message: "git clone (exit 128): fatal: unable to access",
		Domain:  pipeline.DomainNetwork,
	})
	require.NoError(t, err)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageSourceAcquire, got.Stage)
	assert.Equal(t, pipeline.StateFailed, got.State)
	assert.Equal(t, pipeline.DomainNetwork, got.Domain)
	assert.Equal(t, "run-1", got.RunID)
	assert.True(t, fixed.Equal(got.Timestamp))
	assert.Equal(t, pipeline.TotalStages, got.TotalStages)
	assert.Equal(t, pipeline.FormatVersion, got.FormatVersion)

	raw, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"stage_id": "source-acquire"`)
}

func TestFileStatusStore_SaveOverwrites(t *testing.T) {
	store := NewFileStatusStore(t.TempDir())

	require.NoError(t, store.Save(pipeline.PipelineStatus{Stage: pipeline.StageNetworkBringUp, State: pipeline.StateRunning}))
	require.NoError(t, store.Save(pipeline.PipelineStatus{Stage: pipeline.StageNetworkBringUp, State: pipeline.StateSucceeded}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSucceeded, got.State)
	assert.Equal(t, pipeline.StageSourceAcquire, got.ResumeStage())
}

func TestFileStatusStore_SaveRejectsInvalid(t *testing.T) {
	store := NewFileStatusStore(t.TempDir())

	err := store.Save(pipeline.PipelineStatus{Stage: pipeline.Stage(9), State: pipeline.StateRunning})
	require.Error(t, err)

	var perr *pipeline.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "save", perr.Op)
	assert.ErrorIs(t, err, pipeline.ErrCorruptRecord)
}

func TestFileStatusStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"not json", "{truncated", pipeline.ErrCorruptRecord},
		{"unknown stage", `{"format_version":"1","stage_id":"reticulate","state":"running"}`, pipeline.ErrCorruptRecord},
		{"bad state", `{"format_version":"1","stage_id":"complete","state":"sleeping"}`, pipeline.ErrCorruptRecord},
		{"old version", `{"format_version":"0","stage_id":"complete","state":"succeeded"}`, pipeline.ErrVersionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, StatusFileName), []byte(tt.content), 0o644))

			_, err := NewFileStatusStore(dir).Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, pipeline.ExitPersistence, pipeline.ExitCodeFor(err))
		})
	}
}

// TestFileStatusStore_SaveFaultKeepsPreviousRecord tests that a failed
// write is reported as a persistence error and the old record survives.
func TestFileStatusStore_SaveFaultKeepsPreviousRecord(t *testing.T) {
	store := NewFileStatusStore(t.TempDir())
	require.NoError(t, store.Save(pipeline.PipelineStatus{Stage: pipeline.StageConfigurationBootstrap, State: pipeline.StateRunning}))

	withFault(t, phaseRename)
	err := store.Save(pipeline.PipelineStatus{Stage: pipeline.StageConfigurationBootstrap, State: pipeline.StateSucceeded})
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitPersistence, pipeline.ExitCodeFor(err))

	faultHook = nil
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateRunning, got.State)
}

func TestFileStatusStore_Reset(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStatusStore(dir)
	require.NoError(t, store.Save(pipeline.PipelineStatus{Stage: pipeline.StageComplete, State: pipeline.StateSucceeded}))

	require.NoError(t, store.Reset())
	require.NoError(t, store.Reset())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, pipeline.InitialStatus(), got)
}

func TestFileStatusStore_ResetMissingDirectory(t *testing.T) {
	store := NewFileStatusStore(filepath.Join(t.TempDir(), "never-created"))
	assert.NoError(t, store.Reset())
}

// =============================================================================
// FileAttemptLedger Tests
// =============================================================================

func TestFileAttemptLedger_StartsAtZero(t *testing.T) {
	ledger := NewFileAttemptLedger(t.TempDir())
	n, err := ledger.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileAttemptLedger_IncrementPersists(t *testing.T) {
	dir := t.TempDir()
	ledger := NewFileAttemptLedger(dir)

	for want := 1; want <= 3; want++ {
		n, err := ledger.Increment()
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// A fresh instance sees the persisted value, as after a reboot.
	n, err := NewFileAttemptLedger(dir).Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	raw, err := os.ReadFile(filepath.Join(dir, AttemptsFileName))
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(raw))
}

func TestFileAttemptLedger_Reset(t *testing.T) {
	ledger := NewFileAttemptLedger(t.TempDir())
	_, err := ledger.Increment()
	require.NoError(t, err)

	require.NoError(t, ledger.Reset())

	n, err := ledger.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileAttemptLedger_Corrupt(t *testing.T) {
	for _, content := range []string{"three\n", "-1\n", ""} {
		t.Run(content, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, AttemptsFileName), []byte(content), 0o644))

			_, err := NewFileAttemptLedger(dir).Count()
			require.Error(t, err)
			assert.ErrorIs(t, err, pipeline.ErrCorruptRecord)
		})
	}
}

func TestFileAttemptLedger_IncrementFaultKeepsCount(t *testing.T) {
	ledger := NewFileAttemptLedger(t.TempDir())
	_, err := ledger.Increment()
	require.NoError(t, err)

	withFault(t, phaseSync)
	_, err = ledger.Increment()
	require.Error(t, err)

	var perr *pipeline.PersistenceError
	require.True(t, errors.As(err, &perr))

	faultHook = nil
	n, err := ledger.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
