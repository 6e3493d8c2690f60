// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state persists pipeline progress across reboots.
//
// # Description
//
// Two records live in the state directory:
//
//   - status.json: the PipelineStatus, overwritten on every transition.
//   - attempts: the recovery attempt count as a decimal integer.
//
// Both are written with WriteFileAtomic so that a power loss at any point
// leaves either the previous record or the new one, never a torn write.
//
// # Thread Safety
//
// The stores are safe for concurrent use within one process. Cross-process
// exclusion is provided by process.RunLock.
package state
