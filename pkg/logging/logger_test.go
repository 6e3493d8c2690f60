// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, LevelInfo.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(-1).toSlogLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WritesTextToNonTerminalStderr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "firstboot", Stderr: &buf})
	defer logger.Close()

	logger.Info("stage started", "stage", "network-bring-up")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "stage started")
	assert.Contains(t, out, "stage=network-bring-up")
	assert.Contains(t, out, "service=firstboot")
	assert.NotContains(t, out, "hidden")
}

func TestNew_JSONStderr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, JSON: true, Stderr: &buf})

	logger.Warn("recovery exhausted", "domain", "network")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "recovery exhausted", record["msg"])
	assert.Equal(t, "network", record["domain"])
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "firstboot", Stderr: io.Discard})

	logger.Info("persisted", "attempt", 2)
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "firstboot_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"persisted"`))
	assert.True(t, strings.Contains(string(data), `"attempt":2`))
}

func TestNew_UnwritableLogDirFallsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Stderr: &buf})
	logger.Info("still logging")
	require.NoError(t, logger.Close())

	assert.Contains(t, buf.String(), "still logging")
}

// TestExporter_SeesSlogRecords tests that records logged through Slog()
// and its derived loggers reach the exporter with their attributes.
func TestExporter_SeesSlogRecords(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Stderr: io.Discard, Service: "firstboot", Exporter: exporter})

	child := logger.Slog().With("run_id", "abc")
	child.Info("stage transition", "stage", "source-acquire", "attempt", 2)
	child.WithGroup("probe").Warn("failed", "name", "connectivity")
	logger.Debug("below level")
	logger.Error("via wrapper")

	entries := exporter.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, "stage transition", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "abc", entries[0].Attrs["run_id"])
	assert.Equal(t, "source-acquire", entries[0].Attrs["stage"])
	assert.Equal(t, int64(2), entries[0].Attrs["attempt"])
	assert.Equal(t, "firstboot", entries[0].Attrs["service"])
	assert.Equal(t, "firstboot", entries[0].Service)

	assert.Equal(t, LevelWarn, entries[1].Level)
	assert.Equal(t, "connectivity", entries[1].Attrs["probe.name"])
	assert.Equal(t, "abc", entries[1].Attrs["run_id"])

	assert.Equal(t, "via wrapper", entries[2].Message)
	assert.Equal(t, LevelError, entries[2].Level)
	require.NoError(t, logger.Close())
}

func TestLogger_CloseTwice(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Stderr: io.Discard})
	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestFromSlogLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, fromSlogLevel(slog.LevelDebug))
	assert.Equal(t, LevelInfo, fromSlogLevel(slog.LevelInfo))
	assert.Equal(t, LevelWarn, fromSlogLevel(slog.LevelWarn+1))
	assert.Equal(t, LevelError, fromSlogLevel(slog.LevelError+4))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log/firstboot", expandPath("/var/log/firstboot"))
}
