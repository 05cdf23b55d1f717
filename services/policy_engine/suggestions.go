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

import "strings"

const (
	genericSuggestion = "Review the content and remove or mask any sensitive information"
	genericMessage    = "Sensitive data detected"
)

// Suggestion returns the remediation advice for a family.
func Suggestion(t RuleType) string {
	switch t {
	case RuleTypeIDCard:
		return "Remove the national ID number or use an alternative identifier"
	case RuleTypeCreditCard:
		return "Remove the card number or mask it before sharing"
	case RuleTypeAPIKey:
		return "Remove the key and load it from environment variables or a secret store"
	case RuleTypeCredential:
		return "Remove the account credentials or move them to secure configuration"
	case RuleTypePassword:
		return "Remove the password or move it to secure configuration"
	case RuleTypePhone:
		return "Remove the mobile number or use an alternative contact method"
	case RuleTypeEmail:
		return "Confirm the email address needs to be shared"
	case RuleTypeIPAddress:
		return "Confirm the IP address needs to be shared"
	case RuleTypeCustom:
		return genericSuggestion
	default:
		return genericSuggestion
	}
}

// Message returns the user-facing detection message for a family.
func Message(t RuleType) string {
	switch t {
	case RuleTypeIDCard:
		return "National ID number detected"
	case RuleTypeCreditCard:
		return "Credit card number detected"
	case RuleTypeAPIKey:
		return "API key or secret detected"
	case RuleTypeCredential:
		return "Account credentials detected"
	case RuleTypePassword:
		return "Password detected"
	case RuleTypePhone:
		return "Mobile phone number detected"
	case RuleTypeEmail:
		return "Email address detected"
	case RuleTypeIPAddress:
		return "IP address detected"
	case RuleTypeCustom:
		return genericMessage
	default:
		return genericMessage
	}
}

// Suggestions returns one suggestion per distinct rule type, in match order.
// Custom rules with different labels count as different types but share the
// generic text, which is emitted once.
func Suggestions(matches []Match) []string {
	seenType := make(map[string]struct{}, len(matches))
	seenText := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := m.DisplayName()
		if _, ok := seenType[key]; ok {
			continue
		}
		seenType[key] = struct{}{}
		text := Suggestion(m.Type)
		if _, ok := seenText[text]; ok {
			continue
		}
		seenText[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// ErrorMessage joins the distinct per-type messages of a result with "; ".
// Custom rules contribute their label.
func ErrorMessage(res Result) string {
	if !res.Detected {
		return ""
	}
	seen := make(map[string]struct{})
	var parts []string
	for _, m := range res.Matches {
		msg := Message(m.Type)
		if m.Type == RuleTypeCustom && m.Label != "" {
			msg = genericMessage + ": " + m.Label
		}
		if _, ok := seen[msg]; ok {
			continue
		}
		seen[msg] = struct{}{}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
