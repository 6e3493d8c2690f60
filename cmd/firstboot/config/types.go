// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
)

// Default locations.
const (
	DefaultConfigPath = "/etc/firstboot/firstboot.yaml"
	DefaultEnvPath    = "/etc/firstboot/firstboot.env"
	DefaultStateDir   = "/var/lib/firstboot"
	DefaultLogDir     = "/var/log/firstboot"
)

type FirstbootConfig struct {
	// State: where progress, the attempt ledger and the run lock live
	State StateConfig `yaml:"state"`

	// Pipeline: recovery budget and timeouts
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Network: the interface to bring up and the host that proves it works
	Network NetworkConfig `yaml:"network"`

	// Source: the configuration repository
	Source SourceConfig `yaml:"source"`

	// Runner: the configuration runner and its tag sets
	Runner RunnerConfig `yaml:"runner"`

	Packages PackagesConfig `yaml:"packages"`

	// Services: user-facing units checked after provisioning
	Services ServicesConfig `yaml:"services"`

	Fallback  FallbackConfig  `yaml:"fallback"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StateConfig struct {
	Dir string `yaml:"dir" validate:"required"` // e.g. /var/lib/firstboot
}

type PipelineConfig struct {
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts" validate:"min=1,max=10"`
	StageTimeout        time.Duration `yaml:"stage_timeout" validate:"gt=0"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout" validate:"gt=0"`

	// StageTimeouts overrides StageTimeout by stage name, e.g.
	// environment-provision: 2h
	StageTimeouts map[string]time.Duration `yaml:"stage_timeouts,omitempty"`
}

type NetworkConfig struct {
	Interface           string        `yaml:"interface" validate:"required"`
	Unit                string        `yaml:"unit" validate:"required"`
	ConnectivityHost    string        `yaml:"connectivity_host" validate:"required,hostname_port"`
	ConnectivityTimeout time.Duration `yaml:"connectivity_timeout" validate:"gt=0"`
	Backoff             BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" validate:"gt=0"`
	Multiplier float64       `yaml:"multiplier" validate:"gte=1"`
	MaxElapsed time.Duration `yaml:"max_elapsed" validate:"gtfield=Initial"`
}

type SourceConfig struct {
	URL     string   `yaml:"url" validate:"required"`
	Ref     string   `yaml:"ref,omitempty"`
	Dir     string   `yaml:"dir" validate:"required"`
	Markers []string `yaml:"markers" validate:"dive,required"`

	// MinMarkerBytes rejects marker files smaller than this and empty
	// marker directories. 0 only checks that markers exist.
	MinMarkerBytes int64 `yaml:"min_marker_bytes" validate:"min=0"`
}

type RunnerConfig struct {
	Binary    string   `yaml:"binary" validate:"required"`
	Playbook  string   `yaml:"playbook" validate:"required"`
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// Check exits 0 when the runner can start
	Check []string `yaml:"check"`

	// Deps are the packages the runner needs
	Deps []string `yaml:"deps"`

	BootstrapTags []string `yaml:"bootstrap_tags"`
	ProvisionTags []string `yaml:"provision_tags"`
	EssentialTags []string `yaml:"essential_tags"`
	DefaultsTags  []string `yaml:"defaults_tags"`
}

type PackagesConfig struct {
	InstallCommand []string `yaml:"install_command" validate:"min=1"`
}

type ServicesConfig struct {
	UserUnits       []string `yaml:"user_units"`
	UserConfigPaths []string `yaml:"user_config_paths,omitempty"`
}

type FallbackConfig struct {
	Services    []string `yaml:"services" validate:"min=1"`
	PrimaryUser string   `yaml:"primary_user,omitempty"`
	AdminGroup  string   `yaml:"admin_group" validate:"required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"` // textfile in the state directory
	Tracing bool `yaml:"tracing"` // JSON spans in the state directory
}

func DefaultConfig() FirstbootConfig {
	return FirstbootConfig{
		State: StateConfig{Dir: DefaultStateDir},
		Pipeline: PipelineConfig{
			MaxRecoveryAttempts: pipeline.DefaultMaxRecoveryAttempts,
			StageTimeout:        30 * time.Minute,
			ProbeTimeout:        30 * time.Second,
			StageTimeouts: map[string]time.Duration{
				pipeline.StageNetworkBringUp.String(): 2 * time.Minute,
			},
		},
		Network: NetworkConfig{
			Interface:           "eth0",
			Unit:                "NetworkManager",
			ConnectivityHost:    "archlinux.org:443",
			ConnectivityTimeout: 10 * time.Second,
			Backoff: BackoffConfig{
				Initial:    2 * time.Second,
				Multiplier: 2,
				MaxElapsed: 60 * time.Second,
			},
		},
		Source: SourceConfig{
			URL:            "file:///usr/share/firstboot/config.git",
			Dir:            DefaultStateDir + "/source",
			Markers:        []string{"site.yml"},
			MinMarkerBytes: 1,
		},
		Runner: RunnerConfig{
			Binary:        "ansible-playbook",
			Playbook:      "site.yml",
			Check:         []string{"python3", "-c", "import ansible"},
			Deps:          []string{"ansible", "git", "python"},
			BootstrapTags: []string{"base"},
			ProvisionTags: []string{"desktop", "user"},
			EssentialTags: []string{"essential"},
			DefaultsTags:  []string{"user-defaults"},
		},
		Packages: PackagesConfig{
			InstallCommand: []string{"pacman", "-S", "--needed", "--noconfirm"},
		},
		Services: ServicesConfig{
			UserUnits: []string{"gdm"},
		},
		Fallback: FallbackConfig{
			Services:   []string{"NetworkManager", "sshd", "systemd-timesyncd"},
			AdminGroup: "wheel",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   DefaultLogDir,
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
			Tracing: true,
		},
	}
}

// StageTimeoutFor returns the timeout for stage.
func (c PipelineConfig) StageTimeoutFor(stage pipeline.Stage) time.Duration {
	if d, ok := c.StageTimeouts[stage.String()]; ok && d > 0 {
		return d
	}
	return c.StageTimeout
}
