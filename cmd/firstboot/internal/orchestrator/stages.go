// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// DefaultStageTimeout bounds a stage without its own timeout.
const DefaultStageTimeout = 30 * time.Minute

// ErrNoConnectivity is returned by the network stage when the interface
// came up but the known-good host is unreachable.
var ErrNoConnectivity = errors.New("no connectivity after bring-up")

// StageFunc is the body of a stage. It must be safe to re-run.
type StageFunc func(ctx context.Context) error

// Step binds a stage to its body.
type Step struct {
	Stage   pipeline.Stage
	Execute StageFunc

	// Timeout overrides Config.StageTimeout when positive.
	Timeout time.Duration
}

// StageDeps configures the standard stage bodies.
type StageDeps struct {
	Collab collab.Collaborators

	Interface           string
	ConnectivityHost    string
	ConnectivityTimeout time.Duration

	SourceURL      string
	SourceDir      string
	SourceMarkers  []string
	SourceMinBytes int64

	RunnerDeps    []string
	BootstrapTags []string
	ProvisionTags []string
	UserUnits     []string

	// Timeouts per stage; missing entries use Config.StageTimeout.
	Timeouts map[pipeline.Stage]time.Duration
}

// StandardSteps returns the four work stages in order.
func StandardSteps(d StageDeps) []Step {
	c := d.Collab
	steps := []Step{
		{
			Stage: pipeline.StageNetworkBringUp,
			Execute: func(ctx context.Context) error {
				if err := c.Network.BringUp(ctx, d.Interface); err != nil {
					return err
				}
				if !c.Network.ConnectivityCheck(ctx, d.ConnectivityHost, d.ConnectivityTimeout) {
					return fmt.Errorf("%w: %s", ErrNoConnectivity, d.ConnectivityHost)
				}
				return nil
			},
		},
		{
			Stage: pipeline.StageSourceAcquire,
			Execute: func(ctx context.Context) error {
				if err := os.RemoveAll(d.SourceDir); err != nil {
					return fmt.Errorf("clearing %s: %w", d.SourceDir, err)
				}
				if err := c.Source.Fetch(ctx, d.SourceURL, d.SourceDir); err != nil {
					return err
				}
				return collab.VerifyMarkers(d.SourceDir, d.SourceMarkers, d.SourceMinBytes)
			},
		},
		{
			Stage: pipeline.StageConfigurationBootstrap,
			Execute: func(ctx context.Context) error {
				if err := c.Packages.InstallDeps(ctx, d.RunnerDeps); err != nil {
					return err
				}
				return c.Runner.Bootstrap(ctx, d.BootstrapTags)
			},
		},
		{
			Stage: pipeline.StageEnvironmentProvision,
			Execute: func(ctx context.Context) error {
				if err := c.Runner.Bootstrap(ctx, d.ProvisionTags); err != nil {
					return err
				}
				var errs []error
				for _, u := range d.UserUnits {
					if err := c.Services.Enable(ctx, u); err != nil {
						errs = append(errs, err)
						continue
					}
					if err := c.Services.Start(ctx, u); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		},
	}

	for i := range steps {
		steps[i].Timeout = d.Timeouts[steps[i].Stage]
	}
	return steps
}
