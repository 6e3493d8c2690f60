// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/classify"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/fallback"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/state"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/telemetry"
)

// Interrupted is the status message written when a run is cancelled.
const Interrupted = "interrupted"

// -----------------------------------------------------------------------------
// Collaborator Interfaces
// -----------------------------------------------------------------------------

// Classifier diagnoses a failed stage. Implemented by *classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, lastStage pipeline.Stage) classify.Diagnosis
}

// Recoverer runs the procedure for a domain. Implemented by
// *recovery.Registry.
type Recoverer interface {
	Recover(ctx context.Context, domain pipeline.FailureDomain) (pipeline.RecoveryOutcome, error)
}

// Fallback degrades the machine. Implemented by *fallback.Initializer.
type Fallback interface {
	Enter(ctx context.Context, report fallback.Report) error
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config wires an Orchestrator.
type Config struct {
	Store      state.StatusStore
	Ledger     state.AttemptLedger
	Classifier Classifier
	Recovery   Recoverer
	Fallback   Fallback

	// Steps must contain exactly one Step for each work stage.
	Steps []Step

	// MaxAttempts bounds recovery across reboots. Default 3.
	MaxAttempts int

	// StageTimeout applies to steps without their own timeout.
	StageTimeout time.Duration

	// RunID identifies this invocation. Default: a new UUID.
	RunID string

	Recorder telemetry.Recorder
	Tracer   telemetry.Tracer
	Logger   *slog.Logger
}

// Result is the terminal outcome of Run.
type Result string

const (
	ResultComplete        Result = "complete"
	ResultAlreadyComplete Result = "already-complete"
	ResultDegraded        Result = "degraded"
	ResultInterrupted     Result = "interrupted"
	ResultAborted         Result = "aborted"
)

// Orchestrator sequences stages, persists every transition and routes
// failures through classification, recovery and fallback.
type Orchestrator struct {
	cfg   Config
	steps map[pipeline.Stage]Step
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Classifier == nil || cfg.Recovery == nil || cfg.Fallback == nil {
		return nil, errors.New("orchestrator: store, ledger, classifier, recovery and fallback are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = pipeline.DefaultMaxRecoveryAttempts
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = telemetry.NewNoOpRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("run_id", cfg.RunID)

	steps := make(map[pipeline.Stage]Step, len(cfg.Steps))
	for _, s := range cfg.Steps {
		if !s.Stage.IsValid() || s.Stage == pipeline.StageComplete {
			return nil, fmt.Errorf("orchestrator: %w: %s", pipeline.ErrInvalidStage, s.Stage)
		}
		if _, dup := steps[s.Stage]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate step for %s", s.Stage)
		}
		steps[s.Stage] = s
	}
	for _, st := range pipeline.WorkStages() {
		if _, ok := steps[st]; !ok {
			return nil, fmt.Errorf("orchestrator: no step for %s", st)
		}
	}

	return &Orchestrator{cfg: cfg, steps: steps}, nil
}

// RunID returns the invocation identifier written into status records.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// run carries per-invocation bookkeeping.
type run struct {
	current pipeline.Stage
	domain  pipeline.FailureDomain
	attempt int
}

// Run executes the pipeline from the persisted position.
//
// # Outputs
//
//   - Result: ResultComplete, ResultAlreadyComplete or ResultDegraded
//     with a nil error. ResultInterrupted with pipeline.ErrInterrupted.
//     ResultAborted with a *pipeline.PersistenceError or
//     pipeline.ErrStageRegression.
//
// StageErrors never escape Run.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	ctx, finish := o.cfg.Tracer.StartSpan(ctx, "pipeline.run", map[string]string{"run_id": o.cfg.RunID})
	result, err := o.run(ctx)
	finish(err)

	if ferr := o.cfg.Recorder.Flush(); ferr != nil {
		o.cfg.Logger.Warn("flushing metrics failed", "error", ferr)
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context) (Result, error) {
	log := o.cfg.Logger

	status, err := o.cfg.Store.Load()
	if err != nil {
		return ResultAborted, err
	}
	if status.IsComplete() {
		log.Info("pipeline already complete", "stage", status.Stage, "state", status.State)
		return ResultAlreadyComplete, nil
	}

	attempts, err := o.cfg.Ledger.Count()
	if err != nil {
		return ResultAborted, err
	}
	o.cfg.Recorder.SetAttempts(attempts)

	r := &run{current: status.ResumeStage(), attempt: attempts}

	log.Info("pipeline starting",
		"stage", r.current,
		"attempt", attempts,
		"trace_id", o.cfg.Tracer.TraceID(ctx),
	)

	for r.current < pipeline.StageComplete {
		stage := r.current
		if err := o.transition(r, stage, pipeline.StateRunning, ""); err != nil {
			return ResultAborted, err
		}

		stageErr := o.execute(ctx, stage)
		if stageErr == nil {
			if err := o.transition(r, stage, pipeline.StateSucceeded, ""); err != nil {
				return ResultAborted, err
			}
			r.current = stage.Next()
			continue
		}

		if ctx.Err() != nil {
			return o.interrupt(r, stage)
		}

		if err := o.transition(r, stage, pipeline.StateFailed, stageErr.Error()); err != nil {
			return ResultAborted, err
		}

		restored, err := o.handleFailure(ctx, r, stage, stageErr)
		if err != nil {
			return ResultAborted, err
		}
		if ctx.Err() != nil {
			return o.interrupt(r, stage)
		}
		if !restored {
			return ResultDegraded, nil
		}
		if err := o.transition(r, stage, pipeline.StateRecovered, "recovered from "+string(r.domain)+" failure"); err != nil {
			return ResultAborted, err
		}
	}

	r.domain = ""
	if err := o.transition(r, pipeline.StageComplete, pipeline.StateSucceeded, "provisioning complete"); err != nil {
		return ResultAborted, err
	}
	if err := o.cfg.Ledger.Reset(); err != nil {
		return ResultAborted, err
	}
	o.cfg.Recorder.SetAttempts(0)

	log.Info("pipeline complete")
	return ResultComplete, nil
}

// execute runs one stage body under its timeout.
func (o *Orchestrator) execute(ctx context.Context, stage pipeline.Stage) error {
	step := o.steps[stage]
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.cfg.StageTimeout
	}

	spanCtx, finish := o.cfg.Tracer.StartSpan(ctx, "pipeline.stage", map[string]string{"stage": stage.String()})
	stageCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	start := time.Now()
	err := step.Execute(stageCtx)
	if err == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	elapsed := time.Since(start)

	var stageErr error
	if err != nil {
		stageErr = pipeline.NewStageError(stage, err)
		o.cfg.Logger.Warn("stage failed", "stage", stage, "duration", elapsed, "error", err)
	} else {
		o.cfg.Logger.Info("stage completed", "stage", stage, "duration", elapsed)
	}

	o.cfg.Recorder.StageDuration(stage, elapsed.Seconds(), stageErr)
	finish(stageErr)
	return stageErr
}

// handleFailure classifies, consults the ledger and recovers.
//
// Returns true when the stage should be re-run. On false, fallback has
// already run (or ctx was cancelled).
func (o *Orchestrator) handleFailure(ctx context.Context, r *run, stage pipeline.Stage, stageErr error) (bool, error) {
	log := o.cfg.Logger

	diag := o.cfg.Classifier.Classify(ctx, stage)
	r.domain = diag.Domain
	log.Info("failure classified", "stage", stage, "domain", diag.Domain, "probe", diag.Probe)

	count, err := o.cfg.Ledger.Count()
	if err != nil {
		return false, err
	}
	r.attempt = count

	if count >= o.cfg.MaxAttempts {
		log.Warn("recovery attempts exhausted", "stage", stage, "domain", diag.Domain, "attempt", count)
		o.enterFallback(ctx, r, stage, stageErr.Error())
		return false, nil
	}

	count, err = o.cfg.Ledger.Increment()
	if err != nil {
		return false, err
	}
	r.attempt = count
	o.cfg.Recorder.SetAttempts(count)

	if err := o.transition(r, stage, pipeline.StateFailed, stageErr.Error()); err != nil {
		return false, err
	}

	if o.recover(ctx, r, stage, diag.Domain) {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, nil
	}

	again := o.cfg.Classifier.Classify(ctx, stage)
	if again.Domain != diag.Domain {
		log.Info("failure re-classified", "stage", stage, "from", diag.Domain, "domain", again.Domain)
		r.domain = again.Domain
		if o.recover(ctx, r, stage, again.Domain) {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, nil
		}
	}

	o.enterFallback(ctx, r, stage, stageErr.Error())
	return false, nil
}

// recover runs one strategy and reports whether it restored.
func (o *Orchestrator) recover(ctx context.Context, r *run, stage pipeline.Stage, domain pipeline.FailureDomain) bool {
	spanCtx, finish := o.cfg.Tracer.StartSpan(ctx, "pipeline.recovery", map[string]string{
		"stage":  stage.String(),
		"domain": string(domain),
	})
	outcome, err := o.cfg.Recovery.Recover(spanCtx, domain)
	finish(err)

	o.cfg.Recorder.RecoveryAttempt(domain, outcome)
	o.cfg.Logger.Info("recovery finished",
		"stage", stage,
		"domain", domain,
		"attempt", r.attempt,
		"outcome", outcome,
	)
	return outcome == pipeline.OutcomeRestored
}

// enterFallback runs the fallback initializer. Its errors are logged;
// the run is degraded either way.
func (o *Orchestrator) enterFallback(ctx context.Context, r *run, stage pipeline.Stage, lastErr string) {
	o.cfg.Recorder.Fallback()

	status := pipeline.PipelineStatus{Stage: stage, State: pipeline.StateFailed, Domain: r.domain}
	err := o.cfg.Fallback.Enter(ctx, fallback.Report{
		RunID:       o.cfg.RunID,
		Status:      status,
		Domain:      r.domain,
		Attempts:    r.attempt,
		MaxAttempts: o.cfg.MaxAttempts,
		LastError:   lastErr,
	})
	if err != nil {
		o.cfg.Logger.Error("fallback incomplete", "stage", stage, "domain", r.domain, "error", err)
	}
	o.cfg.Logger.Warn("pipeline degraded", "stage", stage, "domain", r.domain, "attempt", r.attempt, "outcome", pipeline.OutcomeExhausted)
}

// interrupt records a cancelled stage.
func (o *Orchestrator) interrupt(r *run, stage pipeline.Stage) (Result, error) {
	if err := o.transition(r, stage, pipeline.StateFailed, Interrupted); err != nil {
		return ResultAborted, err
	}
	o.cfg.Logger.Warn("pipeline interrupted", "stage", stage)
	return ResultInterrupted, pipeline.ErrInterrupted
}

// transition persists and logs a state change. Stages never move
// backwards within a run.
func (o *Orchestrator) transition(r *run, stage pipeline.Stage, st pipeline.State, message string) error {
	if stage < r.current {
		return fmt.Errorf("%w: %s after %s", pipeline.ErrStageRegression, stage, r.current)
	}
	if message == "" {
		message = fmt.Sprintf("%s %s", stage, st)
	}

	err := o.cfg.Store.Save(pipeline.PipelineStatus{
		RunID:   o.cfg.RunID,
		Stage:   stage,
		State:   st,
		Message: message,
		Domain:  r.domain,
	})
	if err != nil {
		return err
	}

	o.cfg.Recorder.StageTransition(stage, st)
	o.cfg.Logger.Info("stage transition",
		"stage", stage,
		"state", st,
		"domain", r.domain,
		"attempt", r.attempt,
	)
	return nil
}
