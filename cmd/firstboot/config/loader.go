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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks the environment variables that override the YAML file.
const EnvPrefix = "FIRSTBOOT_"

var validate = validator.New()

// Load reads the YAML file at path over DefaultConfig, applies FIRSTBOOT_*
// overrides from envPath and the process environment, and validates the
// result. A missing config or env file is not an error. Process variables
// win over the env file.
func Load(path, envPath string) (FirstbootConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read the config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	fileEnv := map[string]string{}
	if envPath != "" {
		fileEnv, err = godotenv.Read(envPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read the env file %s: %w", envPath, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := fileEnv[EnvPrefix+key]
		return v, ok
	}
	if err := applyOverrides(&cfg, lookup); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyOverrides(cfg *FirstbootConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup("STATE_DIR"); ok {
		cfg.State.Dir = v
	}
	if v, ok := lookup("INTERFACE"); ok {
		cfg.Network.Interface = v
	}
	if v, ok := lookup("CONNECTIVITY_HOST"); ok {
		cfg.Network.ConnectivityHost = v
	}
	if v, ok := lookup("SOURCE_URL"); ok {
		cfg.Source.URL = v
	}
	if v, ok := lookup("SOURCE_REF"); ok {
		cfg.Source.Ref = v
	}
	if v, ok := lookup("PRIMARY_USER"); ok {
		cfg.Fallback.PrimaryUser = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("MAX_RECOVERY_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RECOVERY_ATTEMPTS=%q: %w", EnvPrefix, v, err)
		}
		cfg.Pipeline.MaxRecoveryAttempts = n
	}
	return nil
}

// Validate checks field constraints and that every stage_timeouts key names
// a work stage.
func Validate(cfg FirstbootConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name := range cfg.Pipeline.StageTimeouts {
		stage, err := pipeline.ParseStage(name)
		if err != nil || stage == pipeline.StageComplete {
			return fmt.Errorf("invalid configuration: stage_timeouts: unknown stage %q", name)
		}
	}
	if !filepath.IsAbs(cfg.State.Dir) {
		return fmt.Errorf("invalid configuration: state.dir must be absolute, got %q", cfg.State.Dir)
	}
	return nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal renders cfg as YAML.
func Marshal(cfg FirstbootConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal the config: %w", err)
	}
	return data, nil
}
