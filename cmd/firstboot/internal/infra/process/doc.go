// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process wraps the operating-system process facilities firstboot
// depends on: running collaborator commands and holding the run marker.
//
// # Command Execution
//
// Every external collaborator (nmcli, git, ansible-playbook, the package
// manager, systemctl, usermod) is driven through ProcessManager so that the
// pipeline can be exercised in tests with MockProcessManager and no real
// processes.
//
// # Run Marker
//
// RunLock holds an exclusive flock(2) on {StateDir}/run.lock and records the
// holder PID in {StateDir}/run.pid. A second invocation that finds the lock
// held fails with pipeline.ConcurrentRunError and must not touch any state.
package process
