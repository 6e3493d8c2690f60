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
	"log/slog"
	"sync"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// ErrNoProcedure is returned by Recover for an unregistered domain.
var ErrNoProcedure = errors.New("no recovery procedure registered")

// Procedure attempts to repair one failure domain. A nil return means
// the failed stage is worth re-running.
type Procedure func(ctx context.Context) error

// Registry maps failure domains to procedures.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	procedures map[pipeline.FailureDomain]Procedure
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		procedures: make(map[pipeline.FailureDomain]Procedure),
		logger:     logger,
	}
}

// Register sets the procedure for domain, replacing any previous one.
func (r *Registry) Register(domain pipeline.FailureDomain, p Procedure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procedures[domain] = p
}

// Has reports whether domain has a procedure.
func (r *Registry) Has(domain pipeline.FailureDomain) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.procedures[domain]
	return ok
}

// Recover runs the procedure for domain.
//
// # Outputs
//
//   - pipeline.RecoveryOutcome: OutcomeRestored if the procedure returned
//     nil, OutcomeExhausted otherwise.
//   - error: Why recovery was exhausted; nil when restored.
func (r *Registry) Recover(ctx context.Context, domain pipeline.FailureDomain) (pipeline.RecoveryOutcome, error) {
	r.mu.RLock()
	p, ok := r.procedures[domain]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("no recovery procedure", "domain", domain)
		return pipeline.OutcomeExhausted, fmt.Errorf("%w for %s", ErrNoProcedure, domain)
	}

	r.logger.Info("recovery started", "domain", domain)
	if err := p(ctx); err != nil {
		r.logger.Warn("recovery exhausted", "domain", domain, "outcome", pipeline.OutcomeExhausted, "error", err)
		return pipeline.OutcomeExhausted, fmt.Errorf("recovering %s: %w", domain, err)
	}
	r.logger.Info("recovery restored", "domain", domain, "outcome", pipeline.OutcomeRestored)
	return pipeline.OutcomeRestored, nil
}

// Chain returns a Procedure that runs each domain's registered procedure
// in order and stops at the first failure.
func (r *Registry) Chain(domains ...pipeline.FailureDomain) Procedure {
	return func(ctx context.Context) error {
		for _, d := range domains {
			if _, err := r.Recover(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}
}
