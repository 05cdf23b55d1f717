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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/policy_engine/enforcement"
	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// ErrRuleNotFound is returned when an administrative call names an unknown rule.
var ErrRuleNotFound = errors.New("detection rule not found")

// RegistryConfig selects which rules are active.
type RegistryConfig struct {
	// Families disables whole detection families when set to false.
	// Missing families are enabled.
	Families map[RuleType]bool

	// Levels disables every rule of a tier when set to false.
	Levels map[RiskLevel]bool

	// RulesFile is an optional operator rule file (same schema as the
	// embedded rules). Rules with a built-in name replace the built-in.
	RulesFile string

	// Rules are operator rules supplied inline, merged after RulesFile.
	Rules []RuleSpec
}

// RuleSetCache stores the active rule set under its own key and TTL.
type RuleSetCache interface {
	GetRuleSet(ctx context.Context) ([]RuleSpec, bool)
	PutRuleSet(ctx context.Context, specs []RuleSpec)
	InvalidateRuleSet(ctx context.Context)
}

// RuleSet is an immutable, ordered snapshot of compiled rules.
type RuleSet struct {
	Rules   []*Rule
	Version uint64

	specs     []RuleSpec
	prefilter *keywordIndex
}

// Specs returns the declarative rules the set was built from, in order.
func (s *RuleSet) Specs() []RuleSpec {
	out := make([]RuleSpec, len(s.specs))
	copy(out, s.specs)
	return out
}

// RuleStatus describes one rule of the merged catalog.
type RuleStatus struct {
	Spec   RuleSpec `json:"spec"`
	Source string   `json:"source"`
	Active bool     `json:"active"`
	Reason string   `json:"reason,omitempty"`
}

// Registry owns the built-in and operator rules and hands out ordered
// snapshots. Order is priority descending, then insertion order (built-ins
// in file order, then operator rules in file order).
//
// Safe for concurrent use.
type Registry struct {
	cfg     RegistryConfig
	builtin []RuleSpec
	cache   RuleSetCache
	logger  *logging.Logger

	mu        sync.RWMutex
	current   *RuleSet
	overrides map[string]bool
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRuleSetCache plugs in the cache used for the active rule set.
func WithRuleSetCache(c RuleSetCache) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry parses the embedded rules and builds the first snapshot.
//
// An error is returned only when the embedded rule file itself is broken.
// Operator rule problems are logged and the affected rules skipped.
func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) (*Registry, error) {
	var file RuleFile
	if err := yaml.Unmarshal(enforcement.DetectionRules, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded rule file: %w", err)
	}

	r := &Registry{
		cfg:       cfg,
		builtin:   file.Rules,
		cache:     NopCache{},
		logger:    logging.Discard(),
		overrides: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	set, err := r.build()
	if err != nil {
		r.logger.Error("operator rules unavailable, using built-in rules", "error", err)
		set = r.compile(r.filter(r.builtinEntries()))
	}
	r.current = set
	r.cache.PutRuleSet(context.Background(), set.Specs())
	return r, nil
}

// Load returns the active rule set.
//
// The rule-set cache entry is consulted first. On a miss the rules are
// rebuilt from their sources and written back. Load never fails: when the
// sources cannot be read the last good snapshot is returned.
func (r *Registry) Load(ctx context.Context) *RuleSet {
	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()

	if specs, ok := r.cache.GetRuleSet(ctx); ok {
		if cur != nil && cur.Version == fingerprint(specs) {
			return cur
		}
		set := r.compile(specs)
		r.swap(set)
		return set
	}

	set, err := r.build()
	if err != nil {
		r.logger.Warn("rule sources unreadable, keeping previous rule set", "error", err)
		return cur
	}
	r.swap(set)
	r.cache.PutRuleSet(ctx, set.Specs())
	return set
}

// Reload rereads the rule sources and invalidates the cached rule set.
//
// If the operator rule file cannot be parsed the current rule set is kept
// and the error returned.
func (r *Registry) Reload(ctx context.Context) error {
	set, err := r.build()
	if err != nil {
		return err
	}
	r.cache.InvalidateRuleSet(ctx)
	r.swap(set)
	r.cache.PutRuleSet(ctx, set.Specs())
	r.logger.Info("detection rules reloaded", "rules", len(set.Rules), "version", set.Version)
	return nil
}

// SetEnabled enables or disables a rule by name and reloads.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	entries, err := r.entries()
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if e.spec.Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}

	r.mu.Lock()
	r.overrides[name] = enabled
	r.mu.Unlock()
	return r.Reload(ctx)
}

// Catalog lists every known rule, active or not, with the reason a rule is
// inactive.
func (r *Registry) Catalog() ([]RuleStatus, error) {
	entries, err := r.entries()
	if err != nil {
		return nil, err
	}

	out := make([]RuleStatus, 0, len(entries))
	for _, e := range r.applyOverrides(entries) {
		status := RuleStatus{Spec: e.spec, Source: e.source, Active: true}
		if reason := r.inactiveReason(e.spec); reason != "" {
			status.Active = false
			status.Reason = reason
		} else if _, err := compilePattern(e.spec); err != nil {
			status.Active = false
			status.Reason = "invalid pattern: " + err.Error()
		}
		out = append(out, status)
	}
	return out, nil
}

func (r *Registry) swap(set *RuleSet) {
	if set == nil {
		return
	}
	r.mu.Lock()
	r.current = set
	r.mu.Unlock()
}

// =============================================================================
// Building
// =============================================================================

type ruleEntry struct {
	spec   RuleSpec
	source string
}

func (r *Registry) builtinEntries() []ruleEntry {
	out := make([]ruleEntry, 0, len(r.builtin))
	for _, s := range r.builtin {
		out = append(out, ruleEntry{spec: s, source: "builtin"})
	}
	return r.applyOverrides(out)
}

// entries merges built-in and operator rules. A same-named operator rule
// replaces the built-in at the built-in's position.
func (r *Registry) entries() ([]ruleEntry, error) {
	merged := make([]ruleEntry, 0, len(r.builtin)+len(r.cfg.Rules))
	index := make(map[string]int, len(r.builtin))
	for _, s := range r.builtin {
		index[s.Name] = len(merged)
		merged = append(merged, ruleEntry{spec: s, source: "builtin"})
	}

	var operator []RuleSpec
	if r.cfg.RulesFile != "" {
		data, err := os.ReadFile(r.cfg.RulesFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			r.logger.Debug("operator rule file not found", "path", r.cfg.RulesFile)
		case err != nil:
			return nil, fmt.Errorf("read rule file %s: %w", r.cfg.RulesFile, err)
		default:
			var file RuleFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parse rule file %s: %w", r.cfg.RulesFile, err)
			}
			operator = append(operator, file.Rules...)
		}
	}
	operator = append(operator, r.cfg.Rules...)

	for _, s := range operator {
		if s.Name == "" {
			r.logger.Warn("skipping operator rule without a name", "pattern_len", len(s.Pattern))
			continue
		}
		if i, ok := index[s.Name]; ok {
			merged[i] = ruleEntry{spec: s, source: "operator"}
			continue
		}
		index[s.Name] = len(merged)
		merged = append(merged, ruleEntry{spec: s, source: "operator"})
	}
	return merged, nil
}

func (r *Registry) applyOverrides(entries []ruleEntry) []ruleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.overrides) == 0 {
		return entries
	}
	out := make([]ruleEntry, len(entries))
	for i, e := range entries {
		if enabled, ok := r.overrides[e.spec.Name]; ok {
			v := enabled
			e.spec.Enabled = &v
		}
		out[i] = e
	}
	return out
}

func (r *Registry) inactiveReason(s RuleSpec) string {
	if !s.IsEnabled() {
		return "disabled"
	}
	if !s.Level.Valid() {
		return fmt.Sprintf("invalid risk level %q", s.Level)
	}
	typ, _ := ParseRuleType(s.Type)
	if enabled, ok := r.cfg.Families[typ]; ok && !enabled {
		return "family disabled"
	}
	if enabled, ok := r.cfg.Levels[s.Level]; ok && !enabled {
		return "risk level disabled"
	}
	return ""
}

// filter drops inactive rules and orders the rest.
func (r *Registry) filter(entries []ruleEntry) []RuleSpec {
	specs := make([]RuleSpec, 0, len(entries))
	for _, e := range entries {
		if reason := r.inactiveReason(e.spec); reason != "" {
			if reason != "disabled" {
				r.logger.Debug("rule inactive", "rule", e.spec.Name, "reason", reason)
			}
			continue
		}
		specs = append(specs, e.spec)
	}
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].Priority > specs[j].Priority
	})
	return specs
}

func (r *Registry) build() (*RuleSet, error) {
	entries, err := r.entries()
	if err != nil {
		return nil, err
	}
	specs := r.filter(r.applyOverrides(entries))

	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()
	if cur != nil && cur.Version == fingerprint(specs) {
		return cur, nil
	}
	return r.compile(specs), nil
}

// compile turns ordered specs into a RuleSet, skipping invalid patterns.
func (r *Registry) compile(specs []RuleSpec) *RuleSet {
	set := &RuleSet{
		Rules:   make([]*Rule, 0, len(specs)),
		Version: fingerprint(specs),
		specs:   specs,
	}
	for _, s := range specs {
		re, err := compilePattern(s)
		if err != nil {
			r.logger.Error("invalid detection pattern, rule skipped", "rule", s.Name, "error", err)
			continue
		}
		typ, label := ParseRuleType(s.Type)
		if s.Label != "" {
			label = s.Label
		}
		set.Rules = append(set.Rules, &Rule{
			Name:        s.Name,
			Type:        typ,
			Label:       label,
			Level:       s.Level,
			Priority:    s.Priority,
			Description: s.Description,
			Keywords:    s.Keywords,
			spec:        s,
			compiled:    re,
		})
	}
	set.prefilter = newKeywordIndex(set.Rules)
	return set
}

func compilePattern(s RuleSpec) (*regexp.Regexp, error) {
	if strings.TrimSpace(s.Pattern) == "" {
		return nil, errors.New("empty pattern")
	}
	src := s.Pattern
	if !s.CaseSensitive {
		src = "(?i)" + src
	}
	return regexp.Compile(src)
}

// fingerprint identifies an ordered rule list.
func fingerprint(specs []RuleSpec) uint64 {
	data, err := json.Marshal(specs)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
