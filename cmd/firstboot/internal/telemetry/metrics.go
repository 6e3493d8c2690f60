// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package telemetry records pipeline metrics and trace spans.

The pipeline is a one-shot process, so nothing is served. Metrics are
written to a node_exporter textfile when the run ends and spans are
appended to a JSON-lines file in the state directory.

Metrics (namespace firstboot):

  - firstboot_stage_transitions_total: Counter by stage and state
  - firstboot_stage_duration_seconds: Histogram by stage and result
  - firstboot_recovery_attempts_total: Counter by domain and outcome
  - firstboot_fallback_total: Counter of fallback entries
  - firstboot_recovery_attempt_count: Gauge mirroring the attempt ledger

Both concerns have NoOp implementations for tests and for runs with
telemetry disabled.
*/
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

const metricsNamespace = "firstboot"

// MetricsFileName is the textfile written into the state directory.
const MetricsFileName = "metrics.prom"

// Recorder receives pipeline events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// StageTransition counts a persisted state change.
	StageTransition(stage pipeline.Stage, state pipeline.State)

	// StageDuration observes one execution of a stage body.
	StageDuration(stage pipeline.Stage, seconds float64, err error)

	// RecoveryAttempt counts one strategy run.
	RecoveryAttempt(domain pipeline.FailureDomain, outcome pipeline.RecoveryOutcome)

	// Fallback counts an entry into the fallback initializer.
	Fallback()

	// SetAttempts mirrors the attempt ledger.
	SetAttempts(n int)

	// Flush persists collected metrics. No-op for recorders without a sink.
	Flush() error
}

// -----------------------------------------------------------------------------
// NoOp Implementation
// -----------------------------------------------------------------------------

// NoOpRecorder discards events.
type NoOpRecorder struct{}

// NewNoOpRecorder creates a NoOpRecorder.
func NewNoOpRecorder() *NoOpRecorder { return &NoOpRecorder{} }

func (NoOpRecorder) StageTransition(pipeline.Stage, pipeline.State)                    {}
func (NoOpRecorder) StageDuration(pipeline.Stage, float64, error)                      {}
func (NoOpRecorder) RecoveryAttempt(pipeline.FailureDomain, pipeline.RecoveryOutcome) {}
func (NoOpRecorder) Fallback()                                                         {}
func (NoOpRecorder) SetAttempts(int)                                                   {}
func (NoOpRecorder) Flush() error                                                      { return nil }

// -----------------------------------------------------------------------------
// Prometheus Implementation
// -----------------------------------------------------------------------------

// PrometheusRecorder collects metrics in a private registry and writes
// them to a textfile on Flush.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	path     string

	stageTransitions *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	recoveryAttempts *prometheus.CounterVec
	fallbackTotal    prometheus.Counter
	attemptCount     prometheus.Gauge

	mu sync.Mutex
}

// NewPrometheusRecorder creates a recorder that flushes to path. An empty
// path disables Flush.
func NewPrometheusRecorder(path string) *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		path:     path,

		stageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stage_transitions_total",
				Help:      "Persisted stage state changes by stage and state",
			},
			[]string{"stage", "state"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of one stage execution",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage", "result"},
		),

		recoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "recovery_attempts_total",
				Help:      "Recovery strategy runs by failure domain and outcome",
			},
			[]string{"domain", "outcome"},
		),

		fallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fallback_total",
				Help:      "Entries into the fallback initializer",
			},
		),

		attemptCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "recovery_attempt_count",
				Help:      "Current value of the persisted attempt ledger",
			},
		),
	}

	r.registry.MustRegister(
		r.stageTransitions,
		r.stageDuration,
		r.recoveryAttempts,
		r.fallbackTotal,
		r.attemptCount,
	)
	return r
}

// Registry exposes the private registry, e.g. for tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// StageTransition increments the transition counter.
func (r *PrometheusRecorder) StageTransition(stage pipeline.Stage, state pipeline.State) {
	r.stageTransitions.WithLabelValues(stage.String(), string(state)).Inc()
}

// StageDuration observes a stage run.
func (r *PrometheusRecorder) StageDuration(stage pipeline.Stage, seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.stageDuration.WithLabelValues(stage.String(), result).Observe(seconds)
}

// RecoveryAttempt increments the recovery counter.
func (r *PrometheusRecorder) RecoveryAttempt(domain pipeline.FailureDomain, outcome pipeline.RecoveryOutcome) {
	r.recoveryAttempts.WithLabelValues(string(domain), string(outcome)).Inc()
}

// Fallback increments the fallback counter.
func (r *PrometheusRecorder) Fallback() {
	r.fallbackTotal.Inc()
}

// SetAttempts sets the ledger gauge.
func (r *PrometheusRecorder) SetAttempts(n int) {
	r.attemptCount.Set(float64(n))
}

// Flush writes the registry to the textfile atomically.
func (r *PrometheusRecorder) Flush() error {
	if r.path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

var (
	_ Recorder = (*NoOpRecorder)(nil)
	_ Recorder = (*PrometheusRecorder)(nil)
)
