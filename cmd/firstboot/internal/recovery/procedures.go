// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// BackoffConfig bounds connectivity polling after a network restart.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	MaxElapsed time.Duration
}

// DefaultBackoff polls at 2s, 4s, 8s ... for about a minute.
var DefaultBackoff = BackoffConfig{
	Initial:    2 * time.Second,
	Multiplier: 2,
	MaxElapsed: 60 * time.Second,
}

// Deps configures the default procedures.
type Deps struct {
	Collab collab.Collaborators
	Logger *slog.Logger

	// Network
	NetworkUnit         string
	Interface           string
	ConnectivityHost    string
	ConnectivityTimeout time.Duration
	Backoff             BackoffConfig

	// Source
	SourceURL      string
	SourceDir      string
	SourceMarkers  []string
	SourceMinBytes int64

	// Configuration
	RunnerDeps    []string
	EssentialTags []string
	DefaultsTags  []string

	// Environment
	UserUnits       []string
	UserConfigPaths []string

	// Now stamps moved-aside config. Defaults to time.Now.
	Now func() time.Time
}

// ErrStillUnreachable is returned when the uplink did not come back.
var ErrStillUnreachable = errors.New("connectivity not restored")

// RegisterDefaults installs the standard procedure for every domain.
func RegisterDefaults(r *Registry, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Backoff.Initial <= 0 {
		d.Backoff = DefaultBackoff
	}

	p := &procedures{deps: d, registry: r}
	r.Register(pipeline.DomainNetwork, p.network)
	r.Register(pipeline.DomainSourceFetch, p.sourceFetch)
	r.Register(pipeline.DomainConfigurationBootstrap, p.configurationBootstrap)
	r.Register(pipeline.DomainEnvironmentProvision, p.environmentProvision)
	r.Register(pipeline.DomainUnknown, r.Chain(
		pipeline.DomainNetwork,
		pipeline.DomainSourceFetch,
		pipeline.DomainConfigurationBootstrap,
	))
}

type procedures struct {
	deps     Deps
	registry *Registry
}

// network restarts the network service, reconnects the interface and
// waits for the known-good host to answer.
func (p *procedures) network(ctx context.Context) error {
	d := p.deps
	c := d.Collab

	if err := c.Services.Restart(ctx, d.NetworkUnit); err != nil {
		d.Logger.Warn("network unit restart failed", "unit", d.NetworkUnit, "error", err)
	}
	if err := c.Network.BringUp(ctx, d.Interface); err != nil {
		d.Logger.Warn("interface bring-up failed", "interface", d.Interface, "error", err)
	}

	return p.waitForConnectivity(ctx)
}

func (p *procedures) waitForConnectivity(ctx context.Context) error {
	d := p.deps

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.Backoff.Initial
	b.Multiplier = d.Backoff.Multiplier
	b.MaxInterval = d.Backoff.MaxElapsed

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if d.Collab.Network.ConnectivityCheck(ctx, d.ConnectivityHost, d.ConnectivityTimeout) {
			return struct{}{}, nil
		}
		return struct{}{}, fmt.Errorf("%w: %s", ErrStillUnreachable, d.ConnectivityHost)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(d.Backoff.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.Logger.Debug("waiting for connectivity", "host", d.ConnectivityHost, "retry_in", next)
		}),
	)
	return err
}

// sourceFetch discards any partial copy and fetches again, repairing the
// uplink first if it is down.
func (p *procedures) sourceFetch(ctx context.Context) error {
	d := p.deps

	if err := os.RemoveAll(d.SourceDir); err != nil {
		return fmt.Errorf("removing partial source: %w", err)
	}

	if !d.Collab.Network.ConnectivityCheck(ctx, d.ConnectivityHost, d.ConnectivityTimeout) {
		if _, err := p.registry.Recover(ctx, pipeline.DomainNetwork); err != nil {
			return err
		}
	}

	return p.fetch(ctx)
}

func (p *procedures) fetch(ctx context.Context) error {
	d := p.deps
	if err := os.RemoveAll(d.SourceDir); err != nil {
		return fmt.Errorf("removing source: %w", err)
	}
	if err := d.Collab.Source.Fetch(ctx, d.SourceURL, d.SourceDir); err != nil {
		return err
	}
	return collab.VerifyMarkers(d.SourceDir, d.SourceMarkers, d.SourceMinBytes)
}

// configurationBootstrap restores the source tree if needed, reinstalls
// the runner and applies the essential configuration only.
func (p *procedures) configurationBootstrap(ctx context.Context) error {
	d := p.deps
	c := d.Collab

	if err := collab.VerifyMarkers(d.SourceDir, d.SourceMarkers, d.SourceMinBytes); err != nil {
		d.Logger.Info("source tree incomplete, fetching again", "error", err)
		if err := p.fetch(ctx); err != nil {
			return err
		}
	}
	if err := c.Packages.InstallDeps(ctx, d.RunnerDeps); err != nil {
		return err
	}
	return c.Runner.Bootstrap(ctx, d.EssentialTags)
}

// environmentProvision restarts the user-facing units. If any stays down,
// user configuration is moved aside and regenerated from defaults.
func (p *procedures) environmentProvision(ctx context.Context) error {
	d := p.deps
	c := d.Collab

	p.restartUnits(ctx)
	err := collab.UnhealthyUnits(ctx, c.Services, d.UserUnits)
	if err == nil {
		return nil
	}
	d.Logger.Info("units unhealthy after restart, resetting user configuration", "error", err)

	stamp := d.Now().UnixNano()
	for _, path := range d.UserConfigPaths {
		dest, err := moveAside(path, stamp)
		if err != nil {
			return err
		}
		if dest != "" {
			d.Logger.Info("user configuration moved aside", "path", path, "backup", dest)
		}
	}

	if err := c.Runner.Bootstrap(ctx, d.DefaultsTags); err != nil {
		return err
	}

	p.restartUnits(ctx)
	return collab.UnhealthyUnits(ctx, c.Services, d.UserUnits)
}

func (p *procedures) restartUnits(ctx context.Context) {
	for _, u := range p.deps.UserUnits {
		if err := p.deps.Collab.Services.Restart(ctx, u); err != nil {
			p.deps.Logger.Warn("unit restart failed", "unit", u, "error", err)
		}
	}
}

// moveAside renames path to "<path>.firstboot-<stamp>.bak" and returns the
// new name. A missing path is skipped. An existing backup is never
// replaced; a numeric suffix is added instead.
func moveAside(path string, stamp int64) (string, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	base := fmt.Sprintf("%s.firstboot-%d", path, stamp)
	dest := base + ".bak"
	for n := 1; ; n++ {
		_, err := os.Lstat(dest)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", dest, err)
		}
		dest = fmt.Sprintf("%s-%d.bak", base, n)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("moving aside %s: %w", path, err)
	}
	return dest, nil
}
