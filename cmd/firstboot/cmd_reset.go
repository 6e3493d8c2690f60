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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/fallback"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/state"
)

// resetPipeline clears the status record, the attempt ledger and any
// recovery instructions so the next run starts at the first stage.
func (a *app) resetPipeline(_ *cobra.Command, _ []string) error {
	if !a.confirm {
		return fmt.Errorf("%w: reset discards all progress; pass --confirm", pipeline.ErrInvalidInvocation)
	}

	lock, err := a.acquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	dir := a.cfg.State.Dir
	if err := state.NewFileAttemptLedger(dir).Reset(); err != nil {
		return err
	}
	if err := state.NewFileStatusStore(dir).Reset(); err != nil {
		return err
	}
	instructions := filepath.Join(dir, fallback.InstructionsFileName)
	if err := os.Remove(instructions); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &pipeline.PersistenceError{Op: "reset", Path: instructions, Err: err}
	}

	a.logger.Info("pipeline reset", "state_dir", dir)
	a.out.Success(fmt.Sprintf("progress cleared; the next run starts at %s", pipeline.StageNetworkBringUp))
	return nil
}
