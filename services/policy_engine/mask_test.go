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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPreview_Masks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		found   RuleType
		want    string
	}{
		{"national id", "id A123456789", RuleTypeIDCard, "id A1234567**"},
		{"card", "card 1234 5678 9012 3456", RuleTypeCreditCard, "card 1234 5678 9012-****"},
		{"phone", "call 0912-345-678", RuleTypePhone, "call 0912-345-***"},
		{"api key", "token: abcdefghijklmnopqrstuvwx", RuleTypeAPIKey, "token: ****"},
		{"password", "password=hunter22", RuleTypePassword, "password=****"},
		{"credential", "user=bob pass: s3cretpw", RuleTypeCredential, "user=bob pass: ****"},
		{"email", "mail john.doe@example.com now", RuleTypeEmail, "mail j***@example.com now"},
		{"ip has no pattern mask", "host 10.0.0.1", RuleTypeIPAddress, "host 10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPreview(tt.content, map[RuleType]bool{tt.found: true}, 0)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPreview_OnlyMasksFoundFamilies(t *testing.T) {
	got := BuildPreview("A123456789 0912345678", map[RuleType]bool{RuleTypePhone: true}, 0)
	assert.Equal(t, "A123456789 0912345-***", got)
}

func TestBuildPreview_Truncates(t *testing.T) {
	content := strings.Repeat("a", 250)
	got := BuildPreview(content, nil, 200)
	assert.Equal(t, strings.Repeat("a", 200)+"...", got)

	// Limit counts characters, not bytes.
	got = BuildPreview(strings.Repeat("資", 5), nil, 3)
	assert.Equal(t, "資資資...", got)

	got = BuildPreview("  short  ", nil, 200)
	assert.Equal(t, "short", got)
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "1******1", MaskValue("10.0.0.1"))
	assert.Equal(t, "E*****7", MaskValue("EMP-007"))
	assert.Equal(t, "資*料", MaskValue("資x料"))
	assert.Equal(t, "**", MaskValue("ab"))
	assert.Equal(t, "", MaskValue(""))
}

func TestMaskValues_LongestFirst(t *testing.T) {
	got := MaskValues("ids EMP-0071 and EMP-007", []string{"EMP-007", "EMP-0071"})
	assert.Equal(t, "ids E******1 and E*****7", got)
}

func TestScan_PreviewMasksCustomAndIPMatches(t *testing.T) {
	s := newTestScanner(t, RegistryConfig{Rules: []RuleSpec{{
		Name:    "employee_id",
		Type:    string(RuleTypeCustom),
		Label:   "Employee ID",
		Pattern: `EMP-\d{6}`,
		Level:   RiskMedium,
	}}})

	res := s.Scan(t.Context(), "badge EMP-123456 on host 10.0.0.12")

	require.True(t, res.Detected)
	assert.NotContains(t, res.Preview, "EMP-123456")
	assert.NotContains(t, res.Preview, "10.0.0.12")
	assert.Contains(t, res.Preview, "E********6")
	assert.Contains(t, res.Preview, "1*******2")
}

func TestMaskAll(t *testing.T) {
	got := MaskAll("A123456789 and alice@corp.io")
	assert.Equal(t, "A1234567** and a***@corp.io", got)
}

func TestSuggestions_DedupByType(t *testing.T) {
	matches := []Match{
		{RuleName: "internal_ip", Type: RuleTypeIPAddress},
		{RuleName: "external_ip", Type: RuleTypeIPAddress},
		{RuleName: "taiwan_id", Type: RuleTypeIDCard},
		{RuleName: "a", Type: RuleTypeCustom, Label: "badge"},
		{RuleName: "b", Type: RuleTypeCustom, Label: "ticket"},
	}

	got := Suggestions(matches)

	assert.Equal(t, []string{
		Suggestion(RuleTypeIPAddress),
		Suggestion(RuleTypeIDCard),
		Suggestion(RuleTypeCustom),
	}, got)
}

func TestErrorMessage(t *testing.T) {
	assert.Empty(t, ErrorMessage(emptyResult()))

	res := Result{
		Detected: true,
		Matches: []Match{
			{Type: RuleTypeIDCard},
			{Type: RuleTypePhone},
			{Type: RuleTypePhone},
		},
	}
	assert.Equal(t, "National ID number detected; Mobile phone number detected", ErrorMessage(res))
}

func TestEveryKnownTypeHasText(t *testing.T) {
	for _, typ := range KnownRuleTypes {
		assert.NotEqual(t, genericSuggestion, Suggestion(typ), typ)
		assert.NotEqual(t, genericMessage, Message(typ), typ)
	}
}
