// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconRunning} {
		assert.NotEmpty(t, icon.Render(), string(icon))
	}
}

func TestDetectMode_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ModePlain, DetectMode(&buf))
	assert.Equal(t, ModePlain, NewPrinter(&buf).Mode())
}

func TestPrinter_PlainLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithMode(&buf, ModePlain)

	p.Title("firstboot")
	p.Success("pipeline complete")
	p.Warning("degraded")
	p.Error("persistence failed")
	p.Info("run id abc")

	assert.Equal(t, "firstboot\nOK: pipeline complete\nWARN: degraded\nFAIL: persistence failed\nrun id abc\n", buf.String())
}

func TestPrinter_PlainBox(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithMode(&buf, ModePlain)

	p.WarningBox("Recovery exhausted", "see /var/lib/firstboot/RECOVERY-INSTRUCTIONS.txt\n")

	assert.Equal(t, "== Recovery exhausted ==\nsee /var/lib/firstboot/RECOVERY-INSTRUCTIONS.txt\n", buf.String())
}

func TestPrinter_RichContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithMode(&buf, ModeRich)

	p.Success("done")
	p.ErrorBox("Provisioning aborted", "stage 3 of 5")

	out := buf.String()
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "Provisioning aborted")
	assert.Contains(t, out, "stage 3 of 5")
}

func TestPrinter_Stages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithMode(&buf, ModePlain)

	p.Stages([]StageRow{
		{Name: "network-bring-up", Icon: IconSuccess},
		{Name: "source-fetch", Icon: IconError, Detail: "git exited 128"},
		{Name: "complete", Icon: IconPending},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"1. [OK  ] network-bring-up",
		"2. [FAIL] source-fetch      git exited 128",
		"3. [--  ] complete",
	}, lines)
}

func TestPrinter_Fields(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithMode(&buf, ModePlain)

	p.Fields([]KeyValue{
		{Key: "Stage", Value: "source-fetch"},
		{Key: "Domain", Value: ""},
		{Key: "Attempts", Value: "2 of 3"},
	})

	assert.Equal(t, "Stage:    source-fetch\nAttempts: 2 of 3\n", buf.String())
}

func TestPrinter_ProgressBar(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, "2/5", NewPrinterWithMode(&buf, ModePlain).ProgressBar(2, 5, 20))

	rich := NewPrinterWithMode(&buf, ModeRich).ProgressBar(5, 5, 10)
	assert.Contains(t, rich, "5/5")
	assert.Equal(t, "0/0", NewPrinterWithMode(&buf, ModeRich).ProgressBar(0, 0, 10))
}
