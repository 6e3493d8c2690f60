// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery holds the per-domain recovery procedures.
//
// # Description
//
// A Registry maps each FailureDomain to a Procedure. Recover runs the
// procedure and reports restored (re-run the failed stage) or exhausted
// (nothing further can be done locally). An unregistered domain is
// exhausted.
//
// Procedures are idempotent: running one twice in a row, or after a
// reboot mid-way through, leaves the machine no worse than running it
// once. Nothing is deleted that an operator might need; user
// configuration is moved aside with a timestamped suffix.
//
// # Default Procedures
//
//	network                  restart unit, re-bring-up, poll with backoff
//	source-fetch             drop partial copy, check uplink, re-fetch
//	configuration-bootstrap  re-fetch if needed, reinstall deps, essentials
//	environment-provision    restart units, then reset user config
//	unknown                  network, source-fetch, configuration-bootstrap
package recovery
