// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collab defines the external collaborators the pipeline drives
// and their command-line implementations.
//
// # Description
//
// The pipeline never configures a network, clones a repository or
// installs a package itself. It calls the interfaces in this package,
// whose default implementations shell out through process.ProcessManager:
//
//	Network         nmcli + TCP dial
//	Source          git clone
//	Runner          ansible-playbook
//	PackageManager  pacman (configurable)
//	ServiceManager  systemctl
//	AccountManager  id / usermod
//
// Every operation is safe to repeat.
//
// Mock* types in this package are func-field test doubles for the
// packages that consume these interfaces.
package collab
