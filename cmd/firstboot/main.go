// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command firstboot drives the staged provisioning pipeline of a freshly
// installed machine. It is started once per boot by a systemd unit, resumes
// from the persisted stage, recovers from classified failures and leaves
// the machine in a degraded but reachable state when recovery is exhausted.
//
// Exit codes:
//
//	0    pipeline complete, or nothing to do
//	1    recovery exhausted, fallback ran
//	2    invalid invocation or another run in progress
//	3    durable state unreadable or unwritable
//	130  interrupted by SIGINT or SIGTERM
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
