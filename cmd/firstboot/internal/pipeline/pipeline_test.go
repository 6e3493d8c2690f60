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
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_Order(t *testing.T) {
	stages := WorkStages()
	require.Len(t, stages, TotalStages-1)
	for i := 1; i < len(stages); i++ {
		assert.Less(t, stages[i-1], stages[i])
		assert.Equal(t, stages[i], stages[i-1].Next())
	}
	assert.Equal(t, StageComplete, StageEnvironmentProvision.Next())
	assert.Equal(t, StageComplete, StageComplete.Next())
}

func TestStage_ParseRoundTrip(t *testing.T) {
	for _, stage := range append(WorkStages(), StageComplete) {
		t.Run(stage.String(), func(t *testing.T) {
			parsed, err := ParseStage(stage.String())
			require.NoError(t, err)
			assert.Equal(t, stage, parsed)
		})
	}

	_, err := ParseStage("reboot")
	assert.ErrorIs(t, err, ErrInvalidStage)
	assert.False(t, Stage(0).IsValid())
	assert.Equal(t, "stage(42)", Stage(42).String())
}

func TestPipelineStatus_JSONUsesStageNames(t *testing.T) {
	status := PipelineStatus{
		FormatVersion: FormatVersion,
		Stage:         StageConfigurationBootstrap,
		State:         StateFailed,
		Message:       "ansible-playbook exited 2",
		Domain:        DomainNetwork,
		Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		TotalStages:   TotalStages,
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage_id":"configuration-bootstrap"`)
	assert.Contains(t, string(data), `"total_stages":5`)

	var decoded PipelineStatus
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, status, decoded)
	assert.NoError(t, decoded.Validate())
}

func TestPipelineStatus_UnknownStageRejected(t *testing.T) {
	var decoded PipelineStatus
	err := json.Unmarshal([]byte(`{"stage_id":"teleport","state":"running"}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestPipelineStatus_ResumeStage(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		state State
		want  Stage
	}{
		{"succeeded advances", StageSourceAcquire, StateSucceeded, StageConfigurationBootstrap},
		{"running re-runs", StageSourceAcquire, StateRunning, StageSourceAcquire},
		{"failed re-runs", StageConfigurationBootstrap, StateFailed, StageConfigurationBootstrap},
		{"recovered re-runs", StageEnvironmentProvision, StateRecovered, StageEnvironmentProvision},
		{"pending runs", StageNetworkBringUp, StatePending, StageNetworkBringUp},
		{"complete stays", StageComplete, StateSucceeded, StageComplete},
		{"invalid restarts", Stage(0), StateFailed, StageNetworkBringUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := PipelineStatus{Stage: tt.stage, State: tt.state}
			assert.Equal(t, tt.want, status.ResumeStage())
		})
	}
}

func TestPipelineStatus_Validate(t *testing.T) {
	good := InitialStatus()
	assert.NoError(t, good.Validate())
	assert.False(t, good.IsComplete())

	bad := good
	bad.State = "exploded"
	assert.ErrorIs(t, bad.Validate(), ErrCorruptRecord)

	bad = good
	bad.Domain = "cosmic-rays"
	assert.ErrorIs(t, bad.Validate(), ErrCorruptRecord)

	bad = good
	bad.FormatVersion = "0"
	assert.ErrorIs(t, bad.Validate(), ErrVersionMismatch)

	done := PipelineStatus{FormatVersion: FormatVersion, Stage: StageComplete, State: StateSucceeded}
	assert.True(t, done.IsComplete())
}

func TestFailureDomain_Stage(t *testing.T) {
	assert.Equal(t, StageNetworkBringUp, DomainNetwork.Stage())
	assert.Equal(t, StageSourceAcquire, DomainSourceFetch.Stage())
	assert.Equal(t, StageConfigurationBootstrap, DomainConfigurationBootstrap.Stage())
	assert.Equal(t, StageEnvironmentProvision, DomainEnvironmentProvision.Stage())
	assert.Equal(t, StageComplete, DomainUnknown.Stage())
	assert.False(t, FailureDomain("disk").IsValid())
}

func TestStageError(t *testing.T) {
	cause := errors.New("exit status 128")
	err := NewStageError(StageSourceAcquire, cause)
	assert.False(t, err.TimedOut)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "stage source-acquire failed: exit status 128", err.Error())

	timeout := NewStageError(StageNetworkBringUp, fmt.Errorf("nmcli: %w", context.DeadlineExceeded))
	assert.True(t, timeout.TimedOut)
	assert.Contains(t, timeout.Error(), "timed out")
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"concurrent", &ConcurrentRunError{PID: 42}, ExitBadArgs},
		{"invalid", fmt.Errorf("reset: %w", ErrInvalidInvocation), ExitBadArgs},
		{"persistence", &PersistenceError{Op: "save", Path: "/x", Err: errors.New("EROFS")}, ExitPersistence},
		{"regression", fmt.Errorf("transition: %w", ErrStageRegression), ExitPersistence},
		{"interrupted", fmt.Errorf("stage: %w", ErrInterrupted), ExitInterrupted},
		{"degraded", ErrDegraded, ExitDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestConcurrentRunError_Message(t *testing.T) {
	assert.Contains(t, (&ConcurrentRunError{PID: 7}).Error(), "pid 7")
	assert.NotContains(t, (&ConcurrentRunError{}).Error(), "pid")
}
