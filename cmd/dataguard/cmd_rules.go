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
	"strconv"

	"github.com/AleutianAI/DataGuard/services/guard"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/enforcement"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func runRulesList(cmd *cobra.Command, args []string) error {
	var rules []pe.RuleStatus
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		rules, err = e.Rules()
		return err
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return writeJSON(os.Stdout, rules)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSlate)).
		Headers("NAME", "TYPE", "RISK", "PRIORITY", "SOURCE", "ACTIVE")
	for _, r := range rules {
		active := "yes"
		if !r.Active {
			active = "no (" + r.Reason + ")"
		}
		t.Row(r.Spec.Name, r.Spec.Type, string(r.Spec.Level), strconv.Itoa(r.Spec.Priority), r.Source, active)
	}
	fmt.Println(t.String())
	return nil
}

// RulesVerifyResult is the JSON form of "dataguard rules verify".
type RulesVerifyResult struct {
	Valid    bool   `json:"valid"`
	Hash     string `json:"hash"`
	ByteSize int    `json:"byte_size"`
	Rules    int    `json:"rules"`
}

// runRulesVerify prints the SHA-256 of the embedded rule file so operators
// can confirm which built-in rule set a binary ships.
//
// # Exit Codes
//
//   - 0: Rule file parsed
//   - 2: The embedded file does not parse
func runRulesVerify(cmd *cobra.Command, args []string) error {
	data := enforcement.DetectionRules
	var doc struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("embedded rule file does not parse: %w", err)
	}
	result := RulesVerifyResult{
		Valid:    true,
		Hash:     "sha256:" + enforcement.Fingerprint(),
		ByteSize: len(data),
		Rules:    len(doc.Rules),
	}
	if wantJSON() {
		return writeJSON(os.Stdout, result)
	}
	fmt.Println(styleTitle.Render("Built-in detection rules"))
	fmt.Printf("  rules:       %d\n", result.Rules)
	fmt.Printf("  byte size:   %d\n", result.ByteSize)
	fmt.Printf("  fingerprint: %s\n", result.Hash)
	return nil
}
