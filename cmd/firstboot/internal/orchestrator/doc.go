// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package orchestrator drives the provisioning pipeline.

# Control Flow

Each invocation is a fresh process that may follow a crash or reboot:

	load status ─▶ already complete? ─▶ no-op
	     │
	     ▼
	resume stage ─▶ write running ─▶ execute ─▶ write succeeded ─▶ next
	                                   │
	                                   ▼ error
	                             write failed
	                                   │
	                   classify ─▶ ledger < max? ──no──▶ fallback, degraded
	                                   │ yes
	                        increment ledger, recover
	                                   │
	              restored ◀───────────┴──────────▶ exhausted
	         write recovered,                 re-classify once, recover
	         re-run the stage                 again if the domain moved,
	                                          else fallback, degraded

Every transition is persisted before the next begins. A cancelled parent
context (SIGINT/SIGTERM) records the running stage as failed with the
message "interrupted" and stops without recovery.

# Thread Safety

An Orchestrator runs one pipeline at a time. Cross-process exclusion is
the caller's job (process.RunLock).
*/
package orchestrator
