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
	"regexp"
	"slices"
	"strings"
)

// DefaultPreviewLength is the preview size in characters before masking.
const DefaultPreviewLength = 200

const previewEllipsis = "..."

type maskTransform struct {
	re   *regexp.Regexp
	repl string
}

var (
	maskIDCard     = maskTransform{regexp.MustCompile(`(?i)([A-Z][12]\d{6})\d{2}`), "${1}**"}
	maskCreditCard = maskTransform{regexp.MustCompile(`(\d{4}[-\s]?\d{4}[-\s]?\d{4})[-\s]?\d{4}`), "${1}-****"}
	maskPhone      = maskTransform{regexp.MustCompile(`(09\d{2}[-\s]?\d{3})[-\s]?\d{3}`), "${1}-***"}
	maskAPIKey     = maskTransform{regexp.MustCompile(`(?i)((?:api[_-]?key|secret|token)\s*[:=]\s*['"]?)[a-zA-Z0-9]{20,}`), "${1}****"}
	maskCredential = maskTransform{regexp.MustCompile(`(?i)((?:password|pwd|pass)\s*[:=]\s*['"]?)[^'"\s]{6,}`), "${1}****"}
	maskPassword   = maskTransform{regexp.MustCompile(`(?i)((?:password|pwd|passwd)\s*=\s*['"]?)[^'"\s]{6,}`), "${1}****"}
	maskEmail      = maskTransform{regexp.MustCompile(`([A-Za-z0-9._%+-])[A-Za-z0-9._%+-]*@([A-Za-z0-9.-]+\.[A-Za-z]{2,})`), "${1}***@${2}"}
)

// masksFor returns the pattern transforms for one family. Families without
// one (ip_address, custom) are masked by value with MaskValues instead.
func masksFor(t RuleType) []maskTransform {
	switch t {
	case RuleTypeIDCard:
		return []maskTransform{maskIDCard}
	case RuleTypeCreditCard:
		return []maskTransform{maskCreditCard}
	case RuleTypePhone:
		return []maskTransform{maskPhone}
	case RuleTypeAPIKey:
		return []maskTransform{maskAPIKey}
	case RuleTypeCredential:
		return []maskTransform{maskCredential}
	case RuleTypePassword:
		return []maskTransform{maskPassword}
	case RuleTypeEmail:
		return []maskTransform{maskEmail}
	case RuleTypeIPAddress, RuleTypeCustom:
		return nil
	default:
		return nil
	}
}

// MaskValue keeps the first and last character of v and stars out the
// rest. Values of two characters or fewer are starred out entirely.
func MaskValue(v string) string {
	runes := []rune(v)
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}

// MaskValues replaces every occurrence of each value with MaskValue of it.
// Longer values go first so a value nested in another is masked as part of
// the longer one.
func MaskValues(content string, values []string) string {
	if len(values) == 0 {
		return content
	}
	sorted := slices.Clone(values)
	slices.SortStableFunc(sorted, func(a, b string) int { return len(b) - len(a) })
	for _, v := range sorted {
		if v == "" {
			continue
		}
		content = strings.ReplaceAll(content, v, MaskValue(v))
	}
	return content
}

// unmaskedValues collects the matched values of families that masksFor
// does not cover.
func unmaskedValues(matches []Match) []string {
	var out []string
	for _, m := range matches {
		if len(masksFor(m.Type)) == 0 {
			out = append(out, m.Values...)
		}
	}
	return out
}

// BuildPreview trims content, cuts it to limit characters (appending "..."
// when cut) and masks every family in found. Masks run in KnownRuleTypes
// order, so the output is deterministic.
func BuildPreview(content string, found map[RuleType]bool, limit int) string {
	if limit <= 0 {
		limit = DefaultPreviewLength
	}
	preview := strings.TrimSpace(content)
	if runes := []rune(preview); len(runes) > limit {
		preview = string(runes[:limit]) + previewEllipsis
	}

	for _, t := range KnownRuleTypes {
		if !found[t] {
			continue
		}
		for _, m := range masksFor(t) {
			preview = m.re.ReplaceAllString(preview, m.repl)
		}
	}
	return preview
}

// MaskAll applies every mask regardless of what was detected. Used for
// previews whose origin is unknown, such as entries recorded by callers.
func MaskAll(text string) string {
	found := make(map[RuleType]bool, len(KnownRuleTypes))
	for _, t := range KnownRuleTypes {
		found[t] = true
	}
	return BuildPreview(text, found, len([]rune(text))+1)
}
