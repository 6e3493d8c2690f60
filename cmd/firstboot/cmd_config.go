// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/firstboot/cmd/firstboot/config"
)

// showConfig prints the effective configuration, or writes the default
// one with --init.
func (a *app) showConfig(_ *cobra.Command, _ []string) error {
	if a.initConfig {
		if err := config.WriteDefault(a.configPath); err != nil {
			return err
		}
		a.out.Success("wrote " + a.configPath)
		return nil
	}

	data, err := config.Marshal(a.cfg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, string(data))
	return err
}
