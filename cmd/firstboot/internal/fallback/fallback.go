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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"text/template"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/state"
)

// InstructionsFileName is written into the state directory.
const InstructionsFileName = "RECOVERY-INSTRUCTIONS.txt"

// DefaultServices are started so the machine can be reached and diagnosed.
var DefaultServices = []string{"NetworkManager", "sshd", "systemd-timesyncd"}

// Report describes why fallback was entered.
type Report struct {
	RunID       string
	Status      pipeline.PipelineStatus
	Domain      pipeline.FailureDomain
	Attempts    int
	MaxAttempts int
	LastError   string
}

// Config configures the Initializer.
type Config struct {
	StateDir    string
	Services    []string
	PrimaryUser string
	AdminGroup  string
}

// Initializer implements the fallback.
type Initializer struct {
	services collab.ServiceManager
	accounts collab.AccountManager
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewInitializer creates an Initializer. Empty Services uses
// DefaultServices; empty AdminGroup uses "wheel".
func NewInitializer(services collab.ServiceManager, accounts collab.AccountManager, cfg Config, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices
	}
	if cfg.AdminGroup == "" {
		cfg.AdminGroup = "wheel"
	}
	return &Initializer{
		services: services,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// InstructionsPath returns where Enter writes the instructions file.
func (i *Initializer) InstructionsPath() string {
	return filepath.Join(i.cfg.StateDir, InstructionsFileName)
}

// StepResult is the outcome of one fallback step.
type StepResult struct {
	Name string
	Err  error
}

// Result reports "ok" or the error text.
func (s StepResult) Result() string {
	if s.Err == nil {
		return "ok"
	}
	return "FAILED: " + s.Err.Error()
}

// Enter performs the fallback.
//
// # Description
//
// Steps, each attempted once regardless of earlier failures:
//
//  1. enable and start each required service
//  2. add the primary user to the admin group
//  3. write the instructions file
//
// # Outputs
//
//   - error: errors.Join of every failed step; nil when all succeeded.
//     The instructions file is written even when earlier steps failed.
func (i *Initializer) Enter(ctx context.Context, report Report) error {
	i.logger.Warn("entering fallback",
		"stage", report.Status.Stage,
		"domain", report.Domain,
		"attempt", report.Attempts,
	)

	var steps []StepResult
	for _, svc := range i.cfg.Services {
		steps = append(steps, StepResult{Name: "service " + svc, Err: i.startService(ctx, svc)})
	}
	if i.cfg.PrimaryUser != "" {
		steps = append(steps, StepResult{
			Name: fmt.Sprintf("user %s in group %s", i.cfg.PrimaryUser, i.cfg.AdminGroup),
			Err:  i.accounts.EnsureGroup(ctx, i.cfg.PrimaryUser, i.cfg.AdminGroup),
		})
	}

	var errs []error
	for _, s := range steps {
		if s.Err != nil {
			i.logger.Error("fallback step failed", "step", s.Name, "error", s.Err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}

	if err := i.writeInstructions(report, steps); err != nil {
		i.logger.Error("writing recovery instructions failed", "path", i.InstructionsPath(), "error", err)
		errs = append(errs, err)
	} else {
		i.logger.Info("recovery instructions written", "path", i.InstructionsPath())
	}

	return errors.Join(errs...)
}

func (i *Initializer) startService(ctx context.Context, name string) error {
	return errors.Join(i.services.Enable(ctx, name), i.services.Start(ctx, name))
}

var instructionsTemplate = template.Must(template.New("instructions").Parse(
	`FIRSTBOOT PROVISIONING DID NOT COMPLETE
=======================================

This machine is running in a minimal fallback mode. Automatic recovery
was attempted and exhausted.

Written:         {{.Written}}
Run:             {{or .Report.RunID "-"}}
Failed stage:    {{.Report.Status.Stage}} ({{.Report.Status.Stage.Index}}/{{.Total}})
Stage state:     {{.Report.Status.State}}
Failure domain:  {{.Report.Domain}}
Attempts:        {{.Report.Attempts}} of {{.Report.MaxAttempts}}
Last error:      {{or .Report.LastError "-"}}

Fallback steps
--------------
{{range .Steps}}  {{.Name}}: {{.Result}}
{{end}}
What to do
----------
  1. Inspect the log:         journalctl -u firstboot.service -b
  2. Inspect pipeline state:  firstboot status
  3. Fix the {{.Report.Domain}} problem by hand.
  4. Resume provisioning:     firstboot run
     This re-runs the failed stage and continues from there.
  5. Start over from stage 1: firstboot reset --confirm && firstboot run

State directory: {{.StateDir}}
`))

func (i *Initializer) writeInstructions(report Report, steps []StepResult) error {
	var buf bytes.Buffer
	err := instructionsTemplate.Execute(&buf, struct {
		Report   Report
		Steps    []StepResult
		Written  string
		Total    int
		StateDir string
	}{
		Report:   report,
		Steps:    steps,
		Written:  i.now().UTC().Format(time.RFC3339),
		Total:    pipeline.TotalStages,
		StateDir: i.cfg.StateDir,
	})
	if err != nil {
		return fmt.Errorf("rendering instructions: %w", err)
	}
	return state.WriteFileAtomic(i.InstructionsPath(), buf.Bytes(), 0o644)
}
