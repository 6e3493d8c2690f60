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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/config"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/classify"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/fallback"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/orchestrator"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/recovery"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/state"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/telemetry"
)

// defaultCollaborators builds the exec-backed collaborators.
func defaultCollaborators(cfg config.FirstbootConfig, pm process.ProcessManager, logger *slog.Logger) collab.Collaborators {
	return collab.Collaborators{
		Network: collab.NewNMNetwork(pm, logger),
		Source:  collab.NewGitSource(pm, cfg.Source.Ref),
		Runner: collab.NewAnsibleRunner(pm, collab.AnsibleConfig{
			Binary:    cfg.Runner.Binary,
			SourceDir: cfg.Source.Dir,
			Playbook:  cfg.Runner.Playbook,
			ExtraArgs: cfg.Runner.ExtraArgs,
		}),
		Packages: collab.NewCommandPackageManager(pm, cfg.Packages.InstallCommand),
		Services: collab.NewSystemdServiceManager(pm, logger),
		Accounts: collab.NewLocalAccountManager(pm),
	}
}

// newFallback builds the fallback initializer for cfg.
func newFallback(cfg config.FirstbootConfig, c collab.Collaborators, logger *slog.Logger) *fallback.Initializer {
	return fallback.NewInitializer(c.Services, c.Accounts, fallback.Config{
		StateDir:    cfg.State.Dir,
		Services:    cfg.Fallback.Services,
		PrimaryUser: cfg.Fallback.PrimaryUser,
		AdminGroup:  cfg.Fallback.AdminGroup,
	}, logger)
}

// buildOrchestrator wires stores, collaborators, classifier, recovery,
// fallback and telemetry into an Orchestrator. The returned func releases
// telemetry resources and must be called after Run.
func (a *app) buildOrchestrator() (*orchestrator.Orchestrator, func(), error) {
	cfg := a.cfg
	logger := a.logger.Slog()
	pm := a.newProcessManager()
	c := a.newCollaborators(cfg, pm, logger)

	classifier := classify.NewClassifier(logger, cfg.Pipeline.ProbeTimeout)
	for _, p := range classify.DefaultProbes(classify.ProbeDeps{
		Network:             c.Network,
		Services:            c.Services,
		Process:             pm,
		ConnectivityHost:    cfg.Network.ConnectivityHost,
		ConnectivityTimeout: cfg.Network.ConnectivityTimeout,
		SourceDir:           cfg.Source.Dir,
		SourceMarkers:       cfg.Source.Markers,
		SourceMinBytes:      cfg.Source.MinMarkerBytes,
		RunnerCheck:         cfg.Runner.Check,
		UserUnits:           cfg.Services.UserUnits,
	}) {
		classifier.Register(p)
	}
	logger.Debug("failure classifier ready", "probes", classifier.Probes())

	registry := recovery.NewRegistry(logger)
	recovery.RegisterDefaults(registry, recovery.Deps{
		Collab:              c,
		Logger:              logger,
		NetworkUnit:         cfg.Network.Unit,
		Interface:           cfg.Network.Interface,
		ConnectivityHost:    cfg.Network.ConnectivityHost,
		ConnectivityTimeout: cfg.Network.ConnectivityTimeout,
		Backoff: recovery.BackoffConfig{
			Initial:    cfg.Network.Backoff.Initial,
			Multiplier: cfg.Network.Backoff.Multiplier,
			MaxElapsed: cfg.Network.Backoff.MaxElapsed,
		},
		SourceURL:       cfg.Source.URL,
		SourceDir:       cfg.Source.Dir,
		SourceMarkers:   cfg.Source.Markers,
		SourceMinBytes:  cfg.Source.MinMarkerBytes,
		RunnerDeps:      cfg.Runner.Deps,
		EssentialTags:   cfg.Runner.EssentialTags,
		DefaultsTags:    cfg.Runner.DefaultsTags,
		UserUnits:       cfg.Services.UserUnits,
		UserConfigPaths: cfg.Services.UserConfigPaths,
	})
	for _, d := range pipeline.Domains() {
		if !registry.Has(d) {
			return nil, nil, fmt.Errorf("no recovery procedure for domain %s", d)
		}
	}

	timeouts := make(map[pipeline.Stage]time.Duration, len(pipeline.WorkStages()))
	for _, st := range pipeline.WorkStages() {
		timeouts[st] = cfg.Pipeline.StageTimeoutFor(st)
	}
	steps := orchestrator.StandardSteps(orchestrator.StageDeps{
		Collab:              c,
		Interface:           cfg.Network.Interface,
		ConnectivityHost:    cfg.Network.ConnectivityHost,
		ConnectivityTimeout: cfg.Network.ConnectivityTimeout,
		SourceURL:           cfg.Source.URL,
		SourceDir:           cfg.Source.Dir,
		SourceMarkers:       cfg.Source.Markers,
		SourceMinBytes:      cfg.Source.MinMarkerBytes,
		RunnerDeps:          cfg.Runner.Deps,
		BootstrapTags:       cfg.Runner.BootstrapTags,
		ProvisionTags:       cfg.Runner.ProvisionTags,
		UserUnits:           cfg.Services.UserUnits,
		Timeouts:            timeouts,
	})

	var recorder telemetry.Recorder = telemetry.NewNoOpRecorder()
	if cfg.Telemetry.Metrics {
		recorder = telemetry.NewPrometheusRecorder(filepath.Join(cfg.State.Dir, telemetry.MetricsFileName))
	}

	var tracer telemetry.Tracer = telemetry.NewNoOpTracer()
	if cfg.Telemetry.Tracing {
		t, err := telemetry.NewFileTracer(filepath.Join(cfg.State.Dir, telemetry.TraceFileName), "firstboot")
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			tracer = t
		}
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("flushing traces failed", "error", err)
		}
	}

	o, err := orchestrator.New(orchestrator.Config{
		Store:        state.NewFileStatusStore(cfg.State.Dir),
		Ledger:       state.NewFileAttemptLedger(cfg.State.Dir),
		Classifier:   classifier,
		Recovery:     registry,
		Fallback:     newFallback(cfg, c, logger),
		Steps:        steps,
		MaxAttempts:  cfg.Pipeline.MaxRecoveryAttempts,
		StageTimeout: cfg.Pipeline.StageTimeout,
		Recorder:     recorder,
		Tracer:       tracer,
		Logger:       logger,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return o, cleanup, nil
}
