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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/DataGuard/services/guard"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/retention"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// CleanupOutput is the JSON form of a cleanup run.
type CleanupOutput struct {
	DeletedByTier map[string]int        `json:"deleted_by_tier"`
	TotalDeleted  int                   `json:"total_deleted"`
	Errors        []retention.TierError `json:"errors"`
	DurationMs    int64                 `json:"duration_ms"`
}

// runCleanup applies the retention policy once. Exits 2 when any tier pass
// failed; the other tiers still ran.
func runCleanup(cmd *cobra.Command, args []string) error {
	var report retention.CleanupReport
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		report = e.Cleanup(cmd.Context())
		return nil
	})
	if err != nil {
		return err
	}

	if wantJSON() {
		if err := writeJSON(os.Stdout, CleanupOutput{
			DeletedByTier: report.DeletedByTier,
			TotalDeleted:  report.Total(),
			Errors:        report.Errors,
			DurationMs:    report.Duration().Milliseconds(),
		}); err != nil {
			return err
		}
	} else {
		fmt.Println(countsTable("TIER", report.DeletedByTier, retention.Tiers))
		fmt.Printf("%d entries deleted in %s\n", report.Total(), report.Duration().Round(time.Millisecond))
		for _, te := range report.Errors {
			fmt.Printf("  %s %s: %s\n", styleBlock.Render("failed"), te.Tier, te.Error)
		}
	}
	if report.HasErrors() {
		return fmt.Errorf("cleanup failed for %d tier(s)", len(report.Errors))
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	var report retention.Report
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		report, err = e.Report(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return writeJSON(os.Stdout, report)
	}

	fmt.Printf("%s  %d entries\n", styleTitle.Render("Retention report"), report.TotalCount)
	if report.OldestEntry != nil {
		fmt.Printf("  oldest %s, newest %s\n",
			report.OldestEntry.Local().Format("2006-01-02"), report.NewestEntry.Local().Format("2006-01-02"))
	}
	p := report.Policy
	fmt.Printf("  windows: high %dd, medium %dd, low %dd, override %dd\n", p.HighDays, p.MediumDays, p.LowDays, p.OverrideDays)

	byRisk := make(map[string]int, len(report.ByRiskLevel))
	for k, v := range report.ByRiskLevel {
		byRisk[string(k)] = v
	}
	fmt.Println(countsTable("RISK", byRisk, []string{string(pe.RiskHigh), string(pe.RiskMedium), string(pe.RiskLow)}))
	fmt.Println(countsTable("ELIGIBLE", report.EligibleByTier, retention.Tiers))
	for _, r := range report.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	var export retention.Export
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		export, err = e.Export(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}

	out := os.Stdout
	if exportOutput != "" {
		f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}
	if err := writeJSON(out, export); err != nil {
		return err
	}
	if exportOutput != "" {
		msg := fmt.Sprintf("Exported %d of %d entries to %s", len(export.Entries), export.TotalCount, exportOutput)
		if export.Truncated {
			msg += " (truncated)"
		}
		fmt.Fprintln(os.Stderr, msg)
	}
	return nil
}

// runJournalVerify checks the cleanup journal's hash chain.
//
// # Exit Codes
//
//   - 0: Chain intact
//   - 1: Chain broken
//   - 2: No journal configured, or it could not be read
func runJournalVerify(cmd *cobra.Command, args []string) error {
	path := appConfig.Retention.JournalPath
	if path == "" {
		return errors.New("retention.journal_path is not configured")
	}
	j, err := retention.OpenJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ok, broken, err := j.Verify()
	if err != nil {
		return err
	}
	if wantJSON() {
		if err := writeJSON(os.Stdout, struct {
			Path      string `json:"path"`
			Intact    bool   `json:"intact"`
			BrokenSeq int64  `json:"broken_sequence,omitempty"`
		}{path, ok, max(broken, 0)}); err != nil {
			return err
		}
	} else if ok {
		fmt.Println(styleOK.Render("Journal intact: " + path))
	} else {
		fmt.Printf("%s at sequence %d\n", styleBlock.Render("Journal chain broken"), broken)
	}
	if !ok {
		return errFindings
	}
	return nil
}

// runConfigShow prints the effective configuration as YAML with connection
// strings redacted.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cfg.Store.Postgres.DatabaseURL != "" {
		cfg.Store.Postgres.DatabaseURL = redacted
	}
	if cfg.Cache.RedisURL != "" {
		cfg.Cache.RedisURL = redacted
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
