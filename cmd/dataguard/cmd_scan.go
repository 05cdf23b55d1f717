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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/guard"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/spf13/cobra"
)

// readContent returns the single argument, or stdin when it is piped.
func readContent(args []string, stdin *os.File) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if isTerminal(stdin) {
		return "", errors.New("no content: pass it as an argument or pipe it on stdin")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func cliActor() extensions.Actor {
	return extensions.Actor{ID: actorID, UserAgent: "dataguard-cli"}
}

// runScan is the CLI handler for "dataguard scan".
//
// # Exit Codes
//
//   - 0: Nothing detected
//   - 1: Sensitive data detected
//   - 2: Error
func runScan(cmd *cobra.Command, args []string) error {
	content, err := readContent(args, os.Stdin)
	if err != nil {
		return err
	}
	var res pe.Result
	err = withSession(cmd.Context(), func(e *guard.Engine) error {
		res = e.Scan(cmd.Context(), content)
		return nil
	})
	if err != nil {
		return err
	}

	if wantJSON() {
		if err := writeJSON(os.Stdout, res); err != nil {
			return err
		}
	} else {
		printScan(os.Stdout, res)
	}
	if res.Detected {
		return errFindings
	}
	return nil
}

func printScan(w io.Writer, res pe.Result) {
	if res.Status == pe.ScanFailed {
		fmt.Fprintf(w, "%s scan %s: %s\n", styleWarn.Render("!"), res.Status, res.Error)
	}
	if !res.Detected {
		fmt.Fprintln(w, styleOK.Render("No sensitive data found"))
		return
	}
	fmt.Fprintf(w, "%s  risk %s\n", styleTitle.Render("Sensitive data found"), styleRisk(res.Level))
	for _, m := range res.Matches {
		fmt.Fprintf(w, "  %-24s %-7s x%d\n", m.DisplayName(), m.Level, m.Count)
	}
	if res.Preview != "" {
		fmt.Fprintf(w, "\n%s\n  %s\n", styleMuted.Render("Preview"), res.Preview)
	}
	if len(res.Suggestions) > 0 {
		fmt.Fprintf(w, "\n%s\n", styleMuted.Render("Suggestions"))
		for _, s := range res.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

// runCheck is the CLI handler for "dataguard check".
//
// # Exit Codes
//
//   - 0: Allowed or warned
//   - 1: Blocked
//   - 2: Error
func runCheck(cmd *cobra.Command, args []string) error {
	content, err := readContent(args, os.Stdin)
	if err != nil {
		return err
	}
	var out guard.Outcome
	err = withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		out, err = e.Check(cmd.Context(), guard.CheckInput{
			Content:        content,
			Actor:          cliActor(),
			Scope:          extensions.Scope{Project: projectID, ContentType: contentType},
			OverrideReason: overrideReason,
		})
		return err
	})
	if err != nil {
		return err
	}

	if wantJSON() {
		if err := writeJSON(os.Stdout, checkSummary(out)); err != nil {
			return err
		}
	} else {
		printOutcome(os.Stdout, out)
	}
	if out.Blocked() {
		return errFindings
	}
	return nil
}

// checkOutput is the JSON form of a check. Matched values stay out of it.
type checkOutput struct {
	Action         decision.Action `json:"action"`
	Reason         string          `json:"reason"`
	RiskLevel      pe.RiskLevel    `json:"risk_level"`
	RuleTypes      []string        `json:"rule_types"`
	Preview        string          `json:"preview,omitempty"`
	Message        string          `json:"message,omitempty"`
	Whitelist      string          `json:"whitelist,omitempty"`
	EntryID        string          `json:"entry_id,omitempty"`
	RequiresReview bool            `json:"requires_review"`
}

func checkSummary(out guard.Outcome) checkOutput {
	s := checkOutput{
		Action:    out.Decision.Action,
		Reason:    out.Decision.Reason,
		RiskLevel: out.Decision.Level,
		RuleTypes: out.Result.RuleTypes(),
		Preview:   out.Result.Preview,
		Message:   out.Message,
		Whitelist: out.Decision.Whitelist,
	}
	if out.Entry != nil {
		s.EntryID = out.Entry.ID
		s.RequiresReview = out.Entry.RequiresReview
	}
	return s
}

func printOutcome(w io.Writer, out guard.Outcome) {
	fmt.Fprintf(w, "%s  %s  risk %s\n", styleAction(out.Decision.Action), out.Decision.Reason, styleRisk(out.Decision.Level))
	if out.Message != "" {
		fmt.Fprintf(w, "  %s\n", out.Message)
	}
	if types := out.Result.RuleTypes(); len(types) > 0 {
		fmt.Fprintf(w, "  rules: %s\n", strings.Join(types, ", "))
	}
	if out.Entry != nil {
		line := "  audit entry " + out.Entry.ID
		if out.Entry.RequiresReview {
			line += " (requires review)"
		}
		fmt.Fprintln(w, styleMuted.Render(line))
	}
}

// runCheckFiles is the CLI handler for "dataguard check-file". Exits 1 when
// any file is blocked.
func runCheckFiles(cmd *cobra.Command, args []string) error {
	files := make([]attachments.File, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, attachments.File{Name: filepath.Base(path), Data: data})
	}

	var outcomes []guard.AttachmentOutcome
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		outcomes, err = e.CheckAttachments(cmd.Context(), files, cliActor(), extensions.Scope{Project: projectID, ContentType: contentType})
		return err
	})
	if err != nil {
		return err
	}

	blocked := false
	type fileOutput struct {
		Filename string       `json:"filename"`
		Size     int64        `json:"size"`
		Check    *checkOutput `json:"check,omitempty"`
		Error    string       `json:"error,omitempty"`
	}
	results := make([]fileOutput, 0, len(outcomes))
	for _, o := range outcomes {
		r := fileOutput{Filename: o.File.Filename, Size: o.File.Size}
		if o.Decision.Action != "" {
			s := checkSummary(guard.Outcome{Result: o.File.Scan, Decision: o.Decision, Entry: o.Entry, Message: o.Message})
			r.Check = &s
			blocked = blocked || o.Blocked()
		}
		if o.Err != nil {
			r.Error = guard.Classify(o.Err).Message
		}
		results = append(results, r)
	}

	if wantJSON() {
		if err := writeJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Fprintf(os.Stdout, "%s (%d bytes)\n", styleTitle.Render(r.Filename), r.Size)
			if r.Check != nil {
				fmt.Fprintf(os.Stdout, "  %s  %s  risk %s\n", styleAction(r.Check.Action), r.Check.Reason, styleRisk(r.Check.RiskLevel))
			}
			if r.Error != "" {
				fmt.Fprintf(os.Stdout, "  %s %s\n", styleWarn.Render("!"), r.Error)
			}
		}
	}
	if blocked {
		return errFindings
	}
	return nil
}
