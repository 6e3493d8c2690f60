// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collab

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
)

// AnsibleRunner implements Runner with a local ansible-playbook run.
type AnsibleRunner struct {
	pm       process.ProcessManager
	binary   string
	playbook string
	extra    []string
}

// AnsibleConfig configures AnsibleRunner.
type AnsibleConfig struct {
	// Binary defaults to "ansible-playbook".
	Binary string

	// SourceDir is the fetched tree; Playbook is relative to it.
	SourceDir string
	Playbook  string

	// ExtraArgs are appended verbatim, e.g. ["-e", "user=alice"].
	ExtraArgs []string
}

// NewAnsibleRunner creates an AnsibleRunner.
func NewAnsibleRunner(pm process.ProcessManager, cfg AnsibleConfig) *AnsibleRunner {
	binary := cfg.Binary
	if binary == "" {
		binary = "ansible-playbook"
	}
	playbook := cfg.Playbook
	if !filepath.IsAbs(playbook) {
		playbook = filepath.Join(cfg.SourceDir, playbook)
	}
	return &AnsibleRunner{pm: pm, binary: binary, playbook: playbook, extra: cfg.ExtraArgs}
}

// Bootstrap runs the playbook against localhost with the given tags.
// No tags runs the whole playbook.
func (r *AnsibleRunner) Bootstrap(ctx context.Context, tags []string) error {
	args := []string{"-i", "localhost,", "-c", "local", r.playbook}
	if len(tags) > 0 {
		args = append(args, "--tags", strings.Join(tags, ","))
	}
	args = append(args, r.extra...)

	if _, err := r.pm.Run(ctx, r.binary, args...); err != nil {
		return fmt.Errorf("bootstrap %v: %w", tags, err)
	}
	return nil
}

var _ Runner = (*AnsibleRunner)(nil)
