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
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/guard"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/spf13/cobra"
)

// logsFilter builds the audit filter from the list flags.
func logsFilter() audit.Filter {
	f := audit.Filter{
		ProjectID:    logsProject,
		ActorID:      logsActor,
		RiskLevel:    pe.RiskLevel(logsRisk),
		ReviewStatus: audit.ReviewStatus(logsStatus),
		Search:       logsSearch,
		Limit:        logsLimit,
		Offset:       logsOffset,
	}
	if logsPending {
		needs := true
		f.RequiresReview = &needs
	}
	return f
}

func runLogsList(cmd *cobra.Command, args []string) error {
	var page audit.Page
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		page, err = e.Query(cmd.Context(), logsFilter())
		return err
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return writeJSON(os.Stdout, page)
	}
	if len(page.Entries) == 0 {
		fmt.Println(styleMuted.Render("No audit entries match."))
		return nil
	}
	fmt.Println(entriesTable(page.Entries))
	fmt.Println(styleMuted.Render(fmt.Sprintf("%d-%d of %d  (* awaiting review)",
		page.Offset+1, page.Offset+len(page.Entries), page.Total)))
	return nil
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	var entry audit.Entry
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		entry, err = e.Get(cmd.Context(), args[0])
		return err
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return writeJSON(os.Stdout, entry)
	}
	printEntry(os.Stdout, entry)
	return nil
}

func printEntry(w io.Writer, e audit.Entry) {
	fmt.Fprintln(w, styleTitle.Render("Audit entry "+e.ID))
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(w, "  %-16s %s\n", k, v)
		}
	}
	row("created", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	row("actor", e.ActorID)
	row("project", e.ProjectID)
	row("operation", string(e.OperationType))
	row("content type", string(e.ContentType))
	row("risk", styleRisk(e.RiskLevel))
	row("rules", strings.Join(e.RuleTypes, ", "))
	row("preview", e.Preview)
	row("override reason", e.OverrideReason)
	row("file type", e.FileType)
	row("ip", e.IPAddress)
	row("review status", string(e.ReviewStatus))
	if e.RequiresReview {
		row("requires review", "yes")
	}
	row("reviewer", e.ReviewerID)
	if e.ReviewedAt != nil {
		row("reviewed", e.ReviewedAt.Local().Format("2006-01-02 15:04:05"))
	}
	row("comment", e.ReviewComment)
	row("decision", string(e.ReviewDecision))
}

func runLogsStats(cmd *cobra.Command, args []string) error {
	f := audit.Filter{ProjectID: logsProject}
	var (
		stats  audit.Statistics
		review audit.ReviewStatistics
	)
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		if stats, err = e.Statistics(cmd.Context(), f); err != nil {
			return err
		}
		review, err = e.ReviewStatistics(cmd.Context(), f)
		return err
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return writeJSON(os.Stdout, struct {
			Statistics audit.Statistics       `json:"statistics"`
			Review     audit.ReviewStatistics `json:"review"`
		}{stats, review})
	}

	fmt.Printf("%s  %d entries, %d blocked, %d warnings, %d overrides\n",
		styleTitle.Render("Audit log"), stats.Total, stats.Blocked, stats.Warnings, stats.Overrides)

	byRisk := make(map[string]int, len(stats.ByRiskLevel))
	for k, v := range stats.ByRiskLevel {
		byRisk[string(k)] = v
	}
	fmt.Println(countsTable("RISK", byRisk, []string{"high", "medium", "low"}))

	byOp := make(map[string]int, len(stats.ByOperationType))
	ops := make([]string, 0, len(stats.ByOperationType))
	for k, v := range stats.ByOperationType {
		byOp[string(k)] = v
		ops = append(ops, string(k))
	}
	sort.Strings(ops)
	fmt.Println(countsTable("OPERATION", byOp, ops))

	byStatus := make(map[string]int, len(review.ByStatus))
	for k, v := range review.ByStatus {
		byStatus[string(k)] = v
	}
	fmt.Println(countsTable("REVIEW", byStatus, []string{"pending", "approved", "rejected"}))
	fmt.Printf("%d flagged for review, %d awaiting\n", review.RequireReview, review.AwaitingReview)
	return nil
}
