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
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
)

// Below these sizes a plain bytes.Contains loop beats building matcher state.
const (
	ahoMinTerms        = 4
	ahoMinContentBytes = 2 * 1024
)

// keywordIndex decides which keyword-anchored rules can possibly match.
// Rules without keywords are always eligible.
type keywordIndex struct {
	terms     []string
	termBytes [][]byte
	ruleTerms [][]int
	matcher   *ahocorasick.Matcher
}

func newKeywordIndex(rules []*Rule) *keywordIndex {
	idx := &keywordIndex{ruleTerms: make([][]int, len(rules))}
	positions := make(map[string]int)
	for i, rule := range rules {
		for _, kw := range rule.Keywords {
			kw = foldCase(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			pos, ok := positions[kw]
			if !ok {
				pos = len(idx.terms)
				positions[kw] = pos
				idx.terms = append(idx.terms, kw)
				idx.termBytes = append(idx.termBytes, []byte(kw))
			}
			idx.ruleTerms[i] = append(idx.ruleTerms[i], pos)
		}
	}
	if len(idx.terms) > 0 {
		idx.matcher = ahocorasick.NewStringMatcher(idx.terms)
	}
	return idx
}

// eligible returns, per rule, whether the rule should be evaluated.
func (k *keywordIndex) eligible(content string) []bool {
	out := make([]bool, len(k.ruleTerms))
	if len(k.terms) == 0 {
		for i := range out {
			out[i] = true
		}
		return out
	}

	present := k.present([]byte(foldCase(content)))
	for i, terms := range k.ruleTerms {
		if len(terms) == 0 {
			out[i] = true
			continue
		}
		for _, t := range terms {
			if present[t] {
				out[i] = true
				break
			}
		}
	}
	return out
}

func (k *keywordIndex) present(folded []byte) []bool {
	present := make([]bool, len(k.terms))
	if len(k.terms) < ahoMinTerms || len(folded) < ahoMinContentBytes {
		for i, term := range k.termBytes {
			present[i] = bytes.Contains(folded, term)
		}
		return present
	}
	for _, hit := range k.matcher.MatchThreadSafe(folded) {
		if hit >= 0 && hit < len(present) {
			present[hit] = true
		}
	}
	return present
}

// foldCase maps every rune to the smallest rune of its simple case folding
// orbit, the same equivalence (?i) patterns use. Two strings that a
// case-insensitive pattern treats as equal fold to the same bytes, so
// "paſſword" and "PASSWORD" both become "PASSWORD".
func foldCase(s string) string {
	return strings.Map(foldRune, s)
}

func foldRune(r rune) rune {
	if r < utf8.RuneSelf {
		// Every ASCII orbit's smallest member is the upper-case letter,
		// including the k/K/U+212A and s/S/U+017F orbits.
		if 'a' <= r && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}
	least := r
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		if f < least {
			least = f
		}
	}
	return least
}
