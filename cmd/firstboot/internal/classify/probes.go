// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// Default probe names.
const (
	ProbeConnectivity      = "connectivity"
	ProbeSourceTree        = "source-tree"
	ProbeRunnerEnvironment = "runner-environment"
	ProbeUserServices      = "user-services"
)

// ErrUnreachable is returned by the connectivity probe.
var ErrUnreachable = errors.New("known-good host unreachable")

// ProbeDeps carries what the default probes inspect.
type ProbeDeps struct {
	Network             collab.Network
	Services            collab.ServiceManager
	Process             process.ProcessManager
	ConnectivityHost    string
	ConnectivityTimeout time.Duration
	SourceDir           string
	SourceMarkers       []string
	SourceMinBytes      int64

	// RunnerCheck is a command that exits 0 when the runner can start,
	// e.g. ["python3", "-c", "import ansible"].
	RunnerCheck []string

	UserUnits []string
}

// DefaultProbes returns the standard probes in priority order:
// connectivity, source-tree, runner-environment, user-services.
func DefaultProbes(d ProbeDeps) []Probe {
	return []Probe{
		{
			Name:   ProbeConnectivity,
			Domain: pipeline.DomainNetwork,
			Check: func(ctx context.Context) error {
				if !d.Network.ConnectivityCheck(ctx, d.ConnectivityHost, d.ConnectivityTimeout) {
					return fmt.Errorf("%w: %s", ErrUnreachable, d.ConnectivityHost)
				}
				return nil
			},
		},
		{
			Name:   ProbeSourceTree,
			Domain: pipeline.DomainSourceFetch,
			Check: func(ctx context.Context) error {
				return collab.VerifyMarkers(d.SourceDir, d.SourceMarkers, d.SourceMinBytes)
			},
		},
		{
			Name:   ProbeRunnerEnvironment,
			Domain: pipeline.DomainConfigurationBootstrap,
			Check: func(ctx context.Context) error {
				if len(d.RunnerCheck) == 0 {
					return nil
				}
				_, err := d.Process.Run(ctx, d.RunnerCheck[0], d.RunnerCheck[1:]...)
				return err
			},
		},
		{
			Name:   ProbeUserServices,
			Domain: pipeline.DomainEnvironmentProvision,
			Check: func(ctx context.Context) error {
				return collab.UnhealthyUnits(ctx, d.Services, d.UserUnits)
			},
		},
	}
}
