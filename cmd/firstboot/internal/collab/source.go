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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
)

// GitSource implements Source with a shallow git clone.
type GitSource struct {
	pm  process.ProcessManager
	ref string
}

// NewGitSource creates a GitSource that clones ref (branch or tag).
// An empty ref clones the remote's default branch.
func NewGitSource(pm process.ProcessManager, ref string) *GitSource {
	return &GitSource{pm: pm, ref: ref}
}

// Fetch clones url into dest.
func (g *GitSource) Fetch(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dest, err)
	}

	args := []string{"clone", "--depth", "1"}
	if g.ref != "" {
		args = append(args, "--branch", g.ref)
	}
	args = append(args, url, dest)

	if _, err := g.pm.Run(ctx, "git", args...); err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	return nil
}

// VerifyMarkers checks that every marker path exists under dir.
//
// # Inputs
//
//   - dir: Root of the fetched source tree.
//   - markers: Paths relative to dir that a usable tree must contain.
//   - minBytes: When positive, file markers smaller than this and
//     directory markers with no entries are rejected. Zero only checks
//     existence.
//
// # Outputs
//
//   - error: Names the first missing or undersized marker, or reports dir
//     itself missing.
func VerifyMarkers(dir string, markers []string, minBytes int64) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("source tree %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source tree %s is not a directory", dir)
	}
	for _, m := range markers {
		path := filepath.Join(dir, m)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("source tree %s is missing %s", dir, m)
			}
			return fmt.Errorf("checking %s: %w", m, err)
		}
		if minBytes <= 0 {
			continue
		}
		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return fmt.Errorf("checking %s: %w", m, err)
			}
			if len(entries) == 0 {
				return fmt.Errorf("source tree %s has empty directory %s", dir, m)
			}
			continue
		}
		if info.Size() < minBytes {
			return fmt.Errorf("source tree %s has truncated %s (%d bytes, want at least %d)", dir, m, info.Size(), minBytes)
		}
	}
	return nil
}

var _ Source = (*GitSource)(nil)
