// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline defines the data model shared by every part of the
// firstboot provisioning pipeline.
//
// # Stages
//
// The pipeline is a fixed, ordered list of stages. Each stage depends on the
// side effects of the one before it, so stages never run in parallel and
// never get skipped:
//
//	network-bring-up → source-acquire → configuration-bootstrap
//	                 → environment-provision → complete
//
// # Durable Records
//
// PipelineStatus is the progress record persisted by the status store. The
// recovery attempt counter lives in a separate file (see package state) so
// that resetting one never silently resets the other.
//
// # Failure Domains
//
// A FailureDomain is derived from live probes each time a stage fails. It is
// written into PipelineStatus for operators to read but is never trusted as
// input on the next run.
//
// # Error Taxonomy
//
//   - StageError: a collaborator call failed or timed out. Always handled by
//     the orchestrator's recovery loop.
//   - PersistenceError: a durable record could not be read or written.
//     Fatal; correctness cannot be guaranteed.
//   - ConcurrentRunError: another firstboot process holds the run marker.
//     Fatal, no state is mutated.
package pipeline
