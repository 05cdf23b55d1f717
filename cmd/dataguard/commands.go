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
	"os"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/config"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	jsonOutput  bool
	logLevel    string
	actorID     string
	projectID   string
	contentType string

	overrideReason string
	reviewComment  string
	reviewDecision string

	logsStatus   string
	logsRisk     string
	logsActor    string
	logsProject  string
	logsSearch   string
	logsLimit    int
	logsOffset   int
	logsPending  bool
	exportOutput string

	// Loaded by rootCmd.PersistentPreRunE.
	appConfig config.DataGuardConfig
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "dataguard",
		Short: "Detect sensitive data before it is published",
		Long: `DataGuard scans submitted content for credentials, identity numbers,
payment cards and other sensitive data, decides whether to block, warn or
log, and keeps a reviewable audit trail with tiered retention.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				appLogger.Close()
			}
		},
	}

	// --- Detection ---
	scanCmd = &cobra.Command{
		Use:   "scan [text]",
		Short: "Scan text for sensitive data without recording anything",
		Long:  "Scans the argument, or stdin when no argument is given. Exits 1 when something was detected.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScan,
	}
	checkCmd = &cobra.Command{
		Use:   "check [text]",
		Short: "Scan, decide and record a submission",
		Long:  "Runs the full check a host application would run. Exits 1 when the submission is blocked.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheck,
	}
	checkFileCmd = &cobra.Command{
		Use:   "check-file [path...]",
		Short: "Check attachments",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheckFiles,
	}

	// --- Rules ---
	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Inspect the detection rules",
	}
	rulesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List every rule and whether it is active",
		RunE:  runRulesList,
	}
	rulesVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Print the fingerprint of the built-in rule set",
		RunE:  runRulesVerify,
	}

	// --- Audit log ---
	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Query the audit log",
	}
	logsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE:  runLogsList,
	}
	logsShowCmd = &cobra.Command{
		Use:   "show [id]",
		Short: "Show one audit entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogsShow,
	}
	logsStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize the audit log by risk level, operation and review status",
		RunE:  runLogsStats,
	}

	// --- Review ---
	reviewCmd = &cobra.Command{
		Use:   "review",
		Short: "Approve, reject or flag audit entries",
	}
	reviewApproveCmd = &cobra.Command{
		Use:   "approve [id...]",
		Short: "Approve pending entries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runReview(reviewApprove),
	}
	reviewRejectCmd = &cobra.Command{
		Use:   "reject [id...]",
		Short: "Reject pending entries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runReview(reviewReject),
	}
	reviewMarkCmd = &cobra.Command{
		Use:   "mark [id]",
		Short: "Flag an entry for review and reset it to pending",
		Args:  cobra.ExactArgs(1),
		RunE:  runMark,
	}

	// --- Retention ---
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries past their retention period",
		RunE:  runCleanup,
	}
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Summarize what retention holds and would delete",
		RunE:  runReport,
	}
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the newest audit entries as JSON",
		RunE:  runExport,
	}
	journalVerifyCmd = &cobra.Command{
		Use:   "verify-journal",
		Short: "Verify the hash chain of the cleanup journal",
		RunE:  runJournalVerify,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the DataGuard HTTP API",
		RunE:  runServe,
	}

	// --- Config ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE:  runConfigShow,
	}
)

func init() {
	defaultActor := os.Getenv("USER")
	if defaultActor == "" {
		defaultActor = "cli"
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.dataguard/dataguard.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON even on a terminal")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	for _, c := range []*cobra.Command{checkCmd, checkFileCmd} {
		c.Flags().StringVar(&actorID, "actor", defaultActor, "submitting user id")
		c.Flags().StringVar(&projectID, "project", "", "project the content belongs to")
		c.Flags().StringVar(&contentType, "content-type", "", "issue, wiki, message, attachment or project")
	}
	checkCmd.Flags().StringVar(&overrideReason, "override", "", "override reason for a blocked submission")

	logsListCmd.Flags().StringVar(&logsStatus, "status", "", "review status (pending, approved, rejected)")
	logsListCmd.Flags().StringVar(&logsRisk, "risk", "", "risk level (high, medium, low)")
	logsListCmd.Flags().StringVar(&logsActor, "actor", "", "submitting user id")
	logsListCmd.Flags().StringVar(&logsProject, "project", "", "project id")
	logsListCmd.Flags().StringVarP(&logsSearch, "search", "q", "", "substring over preview, rule types and review comment")
	logsListCmd.Flags().BoolVar(&logsPending, "needs-review", false, "only entries flagged for review")
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 50, "page size")
	logsListCmd.Flags().IntVar(&logsOffset, "offset", 0, "page offset")
	logsStatsCmd.Flags().StringVar(&logsProject, "project", "", "project id")

	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		c.Flags().StringVar(&actorID, "reviewer", defaultActor, "reviewer id")
		c.Flags().StringVar(&reviewComment, "comment", "", "review comment")
		c.Flags().StringVar(&reviewDecision, "decision", "", "final decision (allow, block, warn)")
	}

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")

	rulesCmd.AddCommand(rulesListCmd, rulesVerifyCmd)
	logsCmd.AddCommand(logsListCmd, logsShowCmd, logsStatsCmd)
	reviewCmd.AddCommand(reviewApproveCmd, reviewRejectCmd, reviewMarkCmd)
	rootCmd.AddCommand(
		scanCmd, checkCmd, checkFileCmd,
		rulesCmd, logsCmd, reviewCmd,
		cleanupCmd, reportCmd, exportCmd, journalVerifyCmd,
		serveCmd, configCmd,
	)
}

// loadConfig reads the configuration file, writing the defaults on first
// run, and builds the shared logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	appConfig = cfg

	logCfg := cfg.LoggingConfig("dataguard")
	// Commands print their results on stdout; logs go to stderr.
	logCfg.Output = os.Stderr
	if cmd.Name() != "serve" && logLevel == "" {
		logCfg.Level = logging.LevelWarn
	}
	appLogger = logging.New(logCfg)

	if created {
		fmt.Fprintf(os.Stderr, "Wrote default configuration to %s\n", path)
	}
	return nil
}
