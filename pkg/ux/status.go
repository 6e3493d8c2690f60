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
	"fmt"
	"strings"
)

// StageRow is one line of the stage checklist.
type StageRow struct {
	Name   string
	Icon   Icon
	Detail string
}

// KeyValue is one labelled field of a summary block.
type KeyValue struct {
	Key   string
	Value string
}

// Stages prints the checklist, one stage per line.
func (p *Printer) Stages(rows []StageRow) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Name))
	}
	for i, r := range rows {
		name := fmt.Sprintf("%-*s", width, r.Name)
		if p.mode == ModePlain {
			line := fmt.Sprintf("%d. [%-4s] %s", i+1, r.Icon.plainLabel(), name)
			if r.Detail != "" {
				line += "  " + r.Detail
			}
			fmt.Fprintln(p.w, strings.TrimRight(line, " "))
			continue
		}
		line := fmt.Sprintf("  %s %s", r.Icon.Render(), name)
		if r.Detail != "" {
			line += "  " + Styles.Muted.Render(r.Detail)
		}
		fmt.Fprintln(p.w, line)
	}
}

// Fields prints aligned key/value pairs, skipping empty values.
func (p *Printer) Fields(fields []KeyValue) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		key := fmt.Sprintf("%-*s", width+1, f.Key+":")
		if p.mode == ModeRich {
			key = Styles.Bold.Render(key)
		}
		fmt.Fprintf(p.w, "%s %s\n", key, f.Value)
	}
}
