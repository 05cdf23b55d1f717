// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RiskLevel is the severity of a detection. RiskNone means nothing matched.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevels lists the detectable tiers from most to least severe.
var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow}

// Rank orders levels: high 3, medium 2, low 1, none (or unknown) 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the three detectable tiers.
func (r RiskLevel) Valid() bool {
	return r == RiskHigh || r == RiskMedium || r == RiskLow
}

// MaxRisk returns the more severe of a and b.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return RiskNone
	}
	return a
}

func (r *RiskLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := RiskLevel(s)
	if !incoming.Valid() {
		return fmt.Errorf("invalid value for risk_level: %q", s)
	}
	*r = incoming
	return nil
}

// RuleType is the closed set of detection families. Anything outside the
// known families is RuleTypeCustom and carries a display label on the rule.
type RuleType string

const (
	RuleTypeIDCard     RuleType = "id_card"
	RuleTypeCreditCard RuleType = "credit_card"
	RuleTypeAPIKey     RuleType = "api_key"
	RuleTypeCredential RuleType = "credential"
	RuleTypePassword   RuleType = "password"
	RuleTypePhone      RuleType = "phone"
	RuleTypeEmail      RuleType = "email"
	RuleTypeIPAddress  RuleType = "ip_address"
	RuleTypeCustom     RuleType = "custom"
)

// KnownRuleTypes lists every built-in family in masking order.
var KnownRuleTypes = []RuleType{
	RuleTypeIDCard,
	RuleTypeCreditCard,
	RuleTypePhone,
	RuleTypeAPIKey,
	RuleTypeCredential,
	RuleTypePassword,
	RuleTypeEmail,
	RuleTypeIPAddress,
}

// ParseRuleType maps a free-form tag to the closed enum. Unknown tags become
// RuleTypeCustom and the original tag is returned as the label.
func ParseRuleType(tag string) (RuleType, string) {
	switch t := RuleType(tag); t {
	case RuleTypeIDCard, RuleTypeCreditCard, RuleTypeAPIKey, RuleTypeCredential,
		RuleTypePassword, RuleTypePhone, RuleTypeEmail, RuleTypeIPAddress:
		return t, ""
	case RuleTypeCustom, "":
		return RuleTypeCustom, ""
	default:
		return RuleTypeCustom, tag
	}
}

// RuleSpec is the declarative form of a detection rule, as found in the
// embedded rule file, operator rule files and the rule-set cache.
type RuleSpec struct {
	Name          string    `yaml:"name" json:"name"`
	Type          string    `yaml:"type" json:"type"`
	Label         string    `yaml:"label,omitempty" json:"label,omitempty"`
	Pattern       string    `yaml:"pattern" json:"pattern"`
	Level         RiskLevel `yaml:"risk_level" json:"risk_level"`
	Priority      int       `yaml:"priority" json:"priority"`
	Enabled       *bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CaseSensitive bool      `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
	Keywords      []string  `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (s RuleSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RuleFile is the top-level shape of a rule YAML document.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// Rule is a compiled, active detection rule.
type Rule struct {
	Name        string
	Type        RuleType
	Label       string
	Level       RiskLevel
	Priority    int
	Description string
	Keywords    []string

	spec     RuleSpec
	compiled *regexp.Regexp
}

// DisplayName is the label for custom rules and the family tag otherwise.
func (r *Rule) DisplayName() string {
	if r.Type == RuleTypeCustom && r.Label != "" {
		return r.Label
	}
	return string(r.Type)
}

// Spec returns the declarative form the rule was compiled from.
func (r *Rule) Spec() RuleSpec {
	return r.spec
}

// ScanStatus separates "nothing found" from "the scan itself failed", which
// matters for audit completeness.
type ScanStatus string

const (
	ScanClean    ScanStatus = "clean"
	ScanDetected ScanStatus = "detected"
	ScanFailed   ScanStatus = "failed"
)

// Match is every distinct value one rule found in the content.
type Match struct {
	RuleName string    `json:"rule_name"`
	Type     RuleType  `json:"type"`
	Label    string    `json:"label,omitempty"`
	Level    RiskLevel `json:"risk_level"`
	Priority int       `json:"priority"`
	// Values are distinct matched substrings in first-seen order.
	Values []string `json:"values"`
	// Count is the number of non-overlapping occurrences, duplicates included.
	Count int `json:"count"`
}

// DisplayName mirrors Rule.DisplayName.
func (m Match) DisplayName() string {
	if m.Type == RuleTypeCustom && m.Label != "" {
		return m.Label
	}
	return string(m.Type)
}

// Result is the outcome of one scan.
type Result struct {
	Status      ScanStatus `json:"status"`
	Detected    bool       `json:"detected"`
	Level       RiskLevel  `json:"risk_level"`
	Matches     []Match    `json:"matches"`
	Preview     string     `json:"preview"`
	Suggestions []string   `json:"suggestions"`
	ContentHash string     `json:"content_hash"`
	// RulesVersion is the fingerprint of the rule set that produced the
	// result. Cached results from an older rule set are ignored.
	RulesVersion uint64 `json:"rules_version"`
	// Partial is set when the scan deadline expired after some matches
	// were already collected.
	Partial bool   `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RuleTypes returns the distinct display names of the matched rules in
// match order.
func (r Result) RuleTypes() []string {
	seen := make(map[string]struct{}, len(r.Matches))
	out := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		name := m.DisplayName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Failed reports whether the scanner could not complete.
func (r Result) Failed() bool {
	return r.Status == ScanFailed
}

func emptyResult() Result {
	return Result{
		Status:      ScanClean,
		Level:       RiskNone,
		Matches:     []Match{},
		Suggestions: []string{},
	}
}

func failedResult(reason string) Result {
	res := emptyResult()
	res.Status = ScanFailed
	res.Error = reason
	return res
}
