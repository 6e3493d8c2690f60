// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fallback leaves a machine whose provisioning could not be
// recovered in a minimal operable state.
//
// # Description
//
// Enter starts the services an operator needs to reach the machine,
// makes sure the primary account can administer it, and writes a plain
// text instructions file explaining what failed and how to resume.
// Every step is attempted once; failures are recorded in the file and
// returned joined, never retried.
package fallback
