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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 30 * time.Second

// Probe is one health check. Check returns nil when healthy.
type Probe struct {
	Name   string
	Domain pipeline.FailureDomain
	Check  func(ctx context.Context) error
}

// Diagnosis is the result of Classify.
type Diagnosis struct {
	// Domain is the failing probe's domain, or DomainUnknown.
	Domain pipeline.FailureDomain

	// Probe is the name of the failing probe; empty for DomainUnknown.
	Probe string

	// Err is what the probe reported.
	Err error
}

// Classifier runs registered probes in registration order.
//
// # Thread Safety
//
// Safe for concurrent use. Register may be called while Classify runs;
// the running Classify sees the probe list as of its start.
type Classifier struct {
	mu      sync.RWMutex
	probes  []Probe
	timeout time.Duration
	logger  *slog.Logger
}

// NewClassifier creates a Classifier with no probes. A zero timeout uses
// DefaultProbeTimeout.
func NewClassifier(logger *slog.Logger, timeout time.Duration) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Classifier{timeout: timeout, logger: logger}
}

// Register appends p. Existing probes keep their priority.
func (c *Classifier) Register(p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, p)
}

// Probes returns the registered probe names in priority order.
func (c *Classifier) Probes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.probes))
	for i, p := range c.probes {
		names[i] = p.Name
	}
	return names
}

// Classify determines why lastStage failed.
//
// # Description
//
// Runs each eligible probe in order and returns the first failure. A
// probe is eligible when its domain's stage is at or before lastStage.
// When nothing fails, or ctx is already done, the domain is unknown.
//
// # Inputs
//
//   - ctx: Bounds the whole classification.
//   - lastStage: The stage that failed.
//
// # Outputs
//
//   - Diagnosis: Never has an empty Domain.
func (c *Classifier) Classify(ctx context.Context, lastStage pipeline.Stage) Diagnosis {
	c.mu.RLock()
	probes := append([]Probe(nil), c.probes...)
	c.mu.RUnlock()

	for _, p := range probes {
		if p.Domain.Stage() > lastStage {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		err := c.run(ctx, p)
		if err == nil {
			c.logger.Debug("probe healthy", "probe", p.Name, "domain", p.Domain)
			continue
		}

		c.logger.Info("probe failed",
			"probe", p.Name,
			"domain", p.Domain,
			"stage", lastStage,
			"error", err,
		)
		return Diagnosis{Domain: p.Domain, Probe: p.Name, Err: err}
	}

	return Diagnosis{Domain: pipeline.DomainUnknown}
}

func (c *Classifier) run(ctx context.Context, p Probe) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.Check(ctx)
}
