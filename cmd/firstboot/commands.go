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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/firstboot/cmd/firstboot/config"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/collab"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/pipeline"
	"github.com/AleutianAI/firstboot/pkg/logging"
	"github.com/AleutianAI/firstboot/pkg/ux"
)

// app holds the state of one CLI invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Flags
	configPath string
	envPath    string
	jsonOutput bool
	confirm    bool
	initConfig bool

	cfg    config.FirstbootConfig
	logger *logging.Logger
	out    *ux.Printer

	// logExporter, when set, receives every log record of the command.
	logExporter logging.LogExporter

	// started is set once cobra has parsed the command line.
	started bool

	newProcessManager func() process.ProcessManager
	newCollaborators  func(cfg config.FirstbootConfig, pm process.ProcessManager, logger *slog.Logger) collab.Collaborators
	signals           []os.Signal
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		newProcessManager: func() process.ProcessManager {
			return process.NewDefaultProcessManager()
		},
		newCollaborators: defaultCollaborators,
		signals:          []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(ctx, args)
}

// execute runs the command line and maps the outcome to an exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.teardown()
	if err == nil {
		return pipeline.ExitSuccess
	}

	code := pipeline.ExitCodeFor(err)
	if !a.started {
		// cobra rejected the command line before any command ran
		code = pipeline.ExitBadArgs
	}
	if !errors.Is(err, pipeline.ErrDegraded) {
		fmt.Fprintf(a.stderr, "firstboot: %v\n", err)
	}
	return code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "firstboot",
		Short: "Resumable first-boot provisioning pipeline",
		Long: `firstboot brings a freshly installed machine from bare install to fully
provisioned desktop in four stages, persisting progress after every
transition so a reboot or crash resumes where it stopped.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return fmt.Errorf("%w: a command is required", pipeline.ErrInvalidInvocation)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInvocation, err)
	})
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to the YAML configuration")
	root.PersistentFlags().StringVar(&a.envPath, "env-file", config.DefaultEnvPath, "optional FIRSTBOOT_* environment file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline from the persisted stage",
		Args:  noArgs,
		RunE:  a.runPipeline, // Defined in cmd_run.go
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted pipeline status",
		Args:  noArgs,
		RunE:  a.showStatus, // Defined in cmd_status.go
	}
	statusCmd.Flags().BoolVar(&a.jsonOutput, "json", false, "print the status as JSON")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "DANGER: Discard all progress so the next run starts at stage one",
		Args:  noArgs,
		RunE:  a.resetPipeline, // Defined in cmd_reset.go
	}
	resetCmd.Flags().BoolVar(&a.confirm, "confirm", false, "required; confirms progress should be discarded")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  noArgs,
		RunE:  a.showConfig, // Defined in cmd_config.go
	}
	configCmd.Flags().BoolVar(&a.initConfig, "init", false, "write the default configuration to --config")

	root.AddCommand(runCmd, statusCmd, resetCmd, configCmd)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s takes no arguments, got %q", pipeline.ErrInvalidInvocation, cmd.CommandPath(), args)
	}
	return nil
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	a.started = true

	cfg, err := config.Load(a.configPath, a.envPath)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInvocation, err)
	}
	a.cfg = cfg

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	a.logger = logging.New(logging.Config{
		Level:    level,
		LogDir:   cfg.Logging.Dir,
		Service:  "firstboot",
		JSON:     cfg.Logging.JSON,
		Stderr:   a.stderr,
		Exporter: a.logExporter,
	})
	a.out = ux.NewPrinter(a.stdout)
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
		a.logger = nil
	}
}
