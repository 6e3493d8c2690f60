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
	"fmt"
	"time"
)

// FormatVersion is written into every PipelineStatus record.
// Increment when making breaking changes to the record layout.
const FormatVersion = "1"

// DefaultMaxRecoveryAttempts bounds recovery attempts across invocations.
const DefaultMaxRecoveryAttempts = 3

// TotalStages is the number of stages including the terminal one.
const TotalStages = 5

// =============================================================================
// Stage
// =============================================================================

// Stage identifies one ordered unit of the provisioning pipeline.
//
// Stages compare with < and >; the zero value is invalid. Stage is encoded
// in JSON by name.
type Stage int

const (
	StageNetworkBringUp Stage = iota + 1
	StageSourceAcquire
	StageConfigurationBootstrap
	StageEnvironmentProvision
	StageComplete
)

var stageNames = map[Stage]string{
	StageNetworkBringUp:         "network-bring-up",
	StageSourceAcquire:          "source-acquire",
	StageConfigurationBootstrap: "configuration-bootstrap",
	StageEnvironmentProvision:   "environment-provision",
	StageComplete:               "complete",
}

// String returns the stage identifier, e.g. "source-acquire".
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// IsValid reports whether s is one of the defined stages.
func (s Stage) IsValid() bool {
	_, ok := stageNames[s]
	return ok
}

// Next returns the stage after s. Next of StageComplete is StageComplete.
func (s Stage) Next() Stage {
	if s >= StageComplete {
		return StageComplete
	}
	return s + 1
}

// Index returns the 1-based position of s for progress display.
func (s Stage) Index() int {
	return int(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStage converts a stage identifier back into a Stage.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStage, name)
}

// WorkStages returns the stages that perform work, in execution order.
// StageComplete is not included.
func WorkStages() []Stage {
	return []Stage{
		StageNetworkBringUp,
		StageSourceAcquire,
		StageConfigurationBootstrap,
		StageEnvironmentProvision,
	}
}

// =============================================================================
// State
// =============================================================================

// State is the lifecycle state recorded for the current stage.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateRecovered State = "recovered"
)

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateSucceeded, StateFailed, StateRecovered:
		return true
	}
	return false
}

// =============================================================================
// Failure Domain
// =============================================================================

// FailureDomain classifies why a stage failed.
type FailureDomain string

const (
	DomainNetwork                FailureDomain = "network"
	DomainSourceFetch            FailureDomain = "source-fetch"
	DomainConfigurationBootstrap FailureDomain = "configuration-bootstrap"
	DomainEnvironmentProvision   FailureDomain = "environment-provision"
	DomainUnknown                FailureDomain = "unknown"
)

// Domains returns every failure domain.
func Domains() []FailureDomain {
	return []FailureDomain{
		DomainNetwork,
		DomainSourceFetch,
		DomainConfigurationBootstrap,
		DomainEnvironmentProvision,
		DomainUnknown,
	}
}

// IsValid reports whether d is one of the defined domains.
func (d FailureDomain) IsValid() bool {
	for _, known := range Domains() {
		if d == known {
			return true
		}
	}
	return false
}

// Stage returns the stage whose side effects the domain is about.
//
// A probe for a domain is only meaningful once the pipeline has reached
// that stage. DomainUnknown maps to StageComplete.
func (d FailureDomain) Stage() Stage {
	switch d {
	case DomainNetwork:
		return StageNetworkBringUp
	case DomainSourceFetch:
		return StageSourceAcquire
	case DomainConfigurationBootstrap:
		return StageConfigurationBootstrap
	case DomainEnvironmentProvision:
		return StageEnvironmentProvision
	default:
		return StageComplete
	}
}

// =============================================================================
// Recovery Outcome
// =============================================================================

// RecoveryOutcome is returned by a recovery procedure.
type RecoveryOutcome string

const (
	// OutcomeRestored means the failed stage should be re-run.
	OutcomeRestored RecoveryOutcome = "restored"

	// OutcomeExhausted means no further local action is possible.
	OutcomeExhausted RecoveryOutcome = "exhausted"
)

// =============================================================================
// Pipeline Status
// =============================================================================

// PipelineStatus is the durable progress record.
//
// # Fields
//
//   - FormatVersion: Record layout version.
//   - RunID: Invocation that wrote the record.
//   - Stage: Most recently started or attempted stage.
//   - State: Lifecycle state of Stage.
//   - Message: Human-readable detail, e.g. the last error.
//   - Domain: Last classified failure domain. Informational only.
//   - Timestamp: Time of the write.
//   - TotalStages: Always TotalStages; for progress display.
type PipelineStatus struct {
	FormatVersion string        `json:"format_version"`
	RunID         string        `json:"run_id,omitempty"`
	Stage         Stage         `json:"stage_id"`
	State         State         `json:"state"`
	Message       string        `json:"message"`
	Domain        FailureDomain `json:"domain,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	TotalStages   int           `json:"total_stages"`
}

// InitialStatus returns the record used when no status has been persisted.
func InitialStatus() PipelineStatus {
	return PipelineStatus{
		FormatVersion: FormatVersion,
		Stage:         StageNetworkBringUp,
		State:         StatePending,
		Message:       "not started",
		TotalStages:   TotalStages,
	}
}

// IsComplete reports whether the record describes a finished pipeline.
func (p PipelineStatus) IsComplete() bool {
	return p.Stage == StageComplete && p.State == StateSucceeded
}

// ResumeStage returns the stage the next run must execute.
//
// A succeeded stage resumes at the following stage; any other state
// re-runs the recorded stage, since stages are safe to re-run.
func (p PipelineStatus) ResumeStage() Stage {
	if !p.Stage.IsValid() {
		return StageNetworkBringUp
	}
	if p.State == StateSucceeded {
		return p.Stage.Next()
	}
	return p.Stage
}

// Validate checks that the record can be trusted.
func (p PipelineStatus) Validate() error {
	if !p.Stage.IsValid() {
		return fmt.Errorf("%w: stage %d", ErrCorruptRecord, int(p.Stage))
	}
	if !p.State.IsValid() {
		return fmt.Errorf("%w: state %q", ErrCorruptRecord, p.State)
	}
	if p.Domain != "" && !p.Domain.IsValid() {
		return fmt.Errorf("%w: domain %q", ErrCorruptRecord, p.Domain)
	}
	if p.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: expected %s, got %q", ErrVersionMismatch, FormatVersion, p.FormatVersion)
	}
	return nil
}
