// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/fallback"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/state"
	"github.com/AleutianAI/firstboot/pkg/ux"
)

// statusReport is the `status --json` document.
type statusReport struct {
	RunID        string     `json:"run_id,omitempty"`
	Stage        string     `json:"stage_id"`
	StageIndex   int        `json:"stage_index"`
	TotalStages  int        `json:"total_stages"`
	State        string     `json:"state"`
	Message      string     `json:"message"`
	Domain       string     `json:"domain,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Complete     bool       `json:"complete"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	Running      bool       `json:"running"`
	HolderPID    int        `json:"holder_pid,omitempty"`
	StaleMarker  bool       `json:"stale_marker"`
	Degraded     bool       `json:"degraded"`
	Instructions string     `json:"instructions,omitempty"`
}

// showStatus reads the durable records without taking the run lock.
func (a *app) showStatus(_ *cobra.Command, _ []string) error {
	report, status, err := a.collectStatus()
	if err != nil {
		return err
	}

	if a.jsonOutput {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	a.out.Title("firstboot")
	a.out.Fields([]ux.KeyValue{
		{Key: "Run", Value: report.RunID},
		{Key: "Stage", Value: fmt.Sprintf("%s (%s)", report.Stage, a.out.ProgressBar(report.StageIndex, report.TotalStages, 20))},
		{Key: "State", Value: report.State},
		{Key: "Domain", Value: report.Domain},
		{Key: "Message", Value: report.Message},
		{Key: "Attempts", Value: fmt.Sprintf("%d of %d", report.Attempts, report.MaxAttempts)},
		{Key: "Updated", Value: formatTimestamp(report.Timestamp)},
	})
	a.out.Stages(stageRows(status))

	switch {
	case report.Running:
		a.out.Info(fmt.Sprintf("run in progress (pid %d)", report.HolderPID))
	case report.StaleMarker:
		a.out.Warning(fmt.Sprintf("stale run marker from pid %d; the process is gone", report.HolderPID))
	}
	if report.State == string(pipeline.StateFailed) && !report.Degraded && !report.Running {
		a.out.Error(fmt.Sprintf("%s failed; `firstboot run` resumes it", report.Stage))
	}
	if report.Degraded {
		a.out.WarningBox("Degraded mode", "Recovery was exhausted.\nSee "+report.Instructions)
	}
	return nil
}

func (a *app) collectStatus() (statusReport, pipeline.PipelineStatus, error) {
	dir := a.cfg.State.Dir
	status, err := state.NewFileStatusStore(dir).Load()
	if err != nil {
		return statusReport{}, status, err
	}
	attempts, err := state.NewFileAttemptLedger(dir).Count()
	if err != nil {
		return statusReport{}, status, err
	}

	report := statusReport{
		RunID:       status.RunID,
		Stage:       status.Stage.String(),
		StageIndex:  status.Stage.Index(),
		TotalStages: pipeline.TotalStages,
		State:       string(status.State),
		Message:     status.Message,
		Domain:      string(status.Domain),
		Complete:    status.IsComplete(),
		Attempts:    attempts,
		MaxAttempts: a.cfg.Pipeline.MaxRecoveryAttempts,
	}
	if !status.Timestamp.IsZero() {
		ts := status.Timestamp
		report.Timestamp = &ts
	}

	holder := process.NewRunLock(dir).Holder()
	report.HolderPID = holder.PID
	report.Running = holder.PID > 0 && holder.Alive
	report.StaleMarker = holder.PID > 0 && !holder.Alive

	instructions := filepath.Join(dir, fallback.InstructionsFileName)
	if _, err := os.Stat(instructions); err == nil {
		report.Degraded = !report.Complete
		report.Instructions = instructions
	} else if !errors.Is(err, fs.ErrNotExist) {
		return statusReport{}, status, &pipeline.PersistenceError{Op: "load", Path: instructions, Err: err}
	}
	return report, status, nil
}

// stageRows renders the checklist for status.
func stageRows(status pipeline.PipelineStatus) []ux.StageRow {
	stages := append(pipeline.WorkStages(), pipeline.StageComplete)
	rows := make([]ux.StageRow, 0, len(stages))
	for _, st := range stages {
		row := ux.StageRow{Name: st.String(), Icon: ux.IconPending}
		switch {
		case st < status.Stage:
			row.Icon = ux.IconSuccess
		case st == status.Stage:
			row.Icon = stateIcon(status.State)
			if status.State == pipeline.StateFailed {
				row.Detail = status.Message
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func stateIcon(s pipeline.State) ux.Icon {
	switch s {
	case pipeline.StateSucceeded:
		return ux.IconSuccess
	case pipeline.StateRunning:
		return ux.IconRunning
	case pipeline.StateFailed:
		return ux.IconError
	case pipeline.StateRecovered:
		return ux.IconWarning
	default:
		return ux.IconPending
	}
}

func formatTimestamp(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.Local().Format(time.RFC3339)
}
