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
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/fallback"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/orchestrator"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// runPipeline executes the pipeline under the run lock.
//
// SIGINT and SIGTERM cancel the context; the orchestrator records the
// current stage as interrupted and Run returns pipeline.ErrInterrupted.
func (a *app) runPipeline(cmd *cobra.Command, _ []string) error {
	log := a.logger.Slog()

	lock, err := a.acquireLock()
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("releasing run lock failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), a.signals...)
	defer stop()

	o, cleanup, err := a.buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := o.Run(ctx)
	log.Info("run finished", "run_id", o.RunID(), "result", result)

	switch result {
	case orchestrator.ResultComplete:
		a.out.Success("provisioning complete")
	case orchestrator.ResultAlreadyComplete:
		a.out.Success("already provisioned, nothing to do")
	case orchestrator.ResultDegraded:
		path := filepath.Join(a.cfg.State.Dir, fallback.InstructionsFileName)
		a.out.WarningBox("Recovery exhausted",
			fmt.Sprintf("The machine is running in degraded mode.\nSee %s", path))
		return pipeline.ErrDegraded
	case orchestrator.ResultInterrupted:
		a.out.Warning("interrupted; the next run resumes at the interrupted stage")
	case orchestrator.ResultAborted:
		a.out.ErrorBox("Provisioning aborted",
			fmt.Sprintf("Progress could not be recorded in %s.\nNothing further was executed.", a.cfg.State.Dir))
	}
	return err
}

// acquireLock takes the run lock in the state directory. Lock I/O failures
// are reported as persistence errors.
func (a *app) acquireLock() (*process.RunLock, error) {
	lock := process.NewRunLock(a.cfg.State.Dir)
	if err := lock.Acquire(); err != nil {
		var concurrent *pipeline.ConcurrentRunError
		if errors.As(err, &concurrent) {
			a.logger.Error("another run is in progress", "pid", concurrent.PID)
			return nil, err
		}
		return nil, &pipeline.PersistenceError{Op: "lock", Path: a.cfg.State.Dir, Err: err}
	}
	return lock, nil
}
