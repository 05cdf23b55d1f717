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
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Sensitive data found or submission blocked
	CLIExitError    = 2 // Operation failed
)

// errFindings is returned by commands whose result should exit 1 without
// printing an error.
var errFindings = errors.New("findings")

var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorAmber = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
	colorSlate = lipgloss.Color("#2C4A54")

	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	styleMuted = lipgloss.NewStyle().Foreground(colorSlate)
	styleBlock = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	styleWarn  = lipgloss.NewStyle().Bold(true).Foreground(colorAmber)
	styleOK    = lipgloss.NewStyle().Foreground(colorTeal)
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// wantJSON is true with --json or when stdout is piped.
func wantJSON() bool {
	return jsonOutput || !isTerminal(os.Stdout)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// styleAction colors an action name.
func styleAction(a decision.Action) string {
	switch a {
	case decision.ActionBlock:
		return styleBlock.Render(strings.ToUpper(string(a)))
	case decision.ActionWarn:
		return styleWarn.Render(strings.ToUpper(string(a)))
	default:
		return styleOK.Render(strings.ToUpper(string(a)))
	}
}

// styleRisk colors a risk level.
func styleRisk(l pe.RiskLevel) string {
	switch l {
	case pe.RiskHigh:
		return styleBlock.Render(string(l))
	case pe.RiskMedium:
		return styleWarn.Render(string(l))
	case pe.RiskLow:
		return styleOK.Render(string(l))
	default:
		return styleMuted.Render("none")
	}
}

// entriesTable renders audit entries as a bordered table.
func entriesTable(entries []audit.Entry) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSlate)).
		Headers("ID", "CREATED", "ACTOR", "PROJECT", "OPERATION", "RISK", "RULES", "REVIEW")
	for _, e := range entries {
		review := string(e.ReviewStatus)
		if e.RequiresReview && e.ReviewStatus == audit.StatusPending {
			review += "*"
		}
		t.Row(
			e.ID,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.ActorID,
			e.ProjectID,
			string(e.OperationType),
			string(e.RiskLevel),
			strings.Join(e.RuleTypes, ","),
			review,
		)
	}
	return t.String()
}

// countsTable renders a two-column count table with a title row.
func countsTable(title string, counts map[string]int, order []string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSlate)).
		Headers(title, "COUNT")
	for _, k := range order {
		t.Row(k, strconv.Itoa(counts[k]))
	}
	return t.String()
}
