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
	"fmt"
	"os"
	"path/filepath"
)

// Atomic write phases, passed to the fault hook.
const (
	phaseWrite  = "write"
	phaseSync   = "sync"
	phaseRename = "rename"
)

// faultHook, when set, is called before each phase of WriteFileAtomic.
// A non-nil return aborts the write at that phase. Tests only.
var faultHook func(path, phase string) error

func injectFault(path, phase string) error {
	if faultHook == nil {
		return nil
	}
	return faultHook(path, phase)
}

// WriteFileAtomic replaces path with data.
//
// # Description
//
// Writes to a temporary file in the same directory, fsyncs it, renames it
// over path, then fsyncs the directory so the rename itself is durable.
// Readers observe either the old content or the new content.
//
// # Inputs
//
//   - path: Destination file. Its directory is created if missing.
//   - data: Complete new content.
//   - perm: Mode of the new file.
//
// # Outputs
//
//   - error: Non-nil if any phase failed. The destination is untouched and
//     the temporary file is removed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = injectFault(path, phaseWrite); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}

	if err = injectFault(path, phaseSync); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	if err = injectFault(path, phaseRename); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}

	return syncDir(dir)
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory %s: %w", dir, err)
	}
	return nil
}
