// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

import (
	"errors"
	"fmt"
	"net/netip"
	"path"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// ErrInvalidWhitelist is returned for a whitelist entry that cannot be used.
var ErrInvalidWhitelist = errors.New("invalid whitelist entry")

// WhitelistType selects what an entry is compared against.
type WhitelistType string

const (
	// WhitelistContent is compared against every matched value.
	WhitelistContent WhitelistType = "content"
	// WhitelistUser is compared against the actor id.
	WhitelistUser WhitelistType = "user"
	// WhitelistProject is compared against the scope project.
	WhitelistProject WhitelistType = "project"
	// WhitelistIP is compared against the client address and against
	// matched ip_address values.
	WhitelistIP WhitelistType = "ip"
)

// MatchType selects how the pattern is compared.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchRegex    MatchType = "regex"
	MatchWildcard MatchType = "wildcard"
)

// WhitelistRule suppresses decisions for known-safe content, users,
// projects or addresses.
type WhitelistRule struct {
	Name        string        `yaml:"name" json:"name"`
	Type        WhitelistType `yaml:"type" json:"type"`
	Pattern     string        `yaml:"pattern" json:"pattern"`
	MatchType   MatchType     `yaml:"match_type" json:"match_type"`
	Project     string        `yaml:"project,omitempty" json:"project,omitempty"`
	User        string        `yaml:"user,omitempty" json:"user,omitempty"`
	Category    string        `yaml:"category,omitempty" json:"category,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Disabled    bool          `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	ExpiresAt   *time.Time    `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Active reports whether the entry may suppress a decision at now.
func (w WhitelistRule) Active(now time.Time) bool {
	if w.Disabled {
		return false
	}
	return w.ExpiresAt == nil || now.Before(*w.ExpiresAt)
}

type whitelistFile struct {
	Whitelist []WhitelistRule `yaml:"whitelist"`
}

// SeedWhitelist returns the built-in entries.
func SeedWhitelist() ([]WhitelistRule, error) {
	var f whitelistFile
	if err := yaml.Unmarshal(enforcement.WhitelistSeeds, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded whitelist: %w", err)
	}
	return f.Whitelist, nil
}

type whitelistEntry struct {
	rule   WhitelistRule
	re     *regexp.Regexp
	prefix netip.Prefix
	isCIDR bool
}

func compileWhitelist(r WhitelistRule) (whitelistEntry, error) {
	if r.Name == "" {
		return whitelistEntry{}, fmt.Errorf("%w: missing name", ErrInvalidWhitelist)
	}
	if r.Pattern == "" {
		return whitelistEntry{}, fmt.Errorf("%w: %s: empty pattern", ErrInvalidWhitelist, r.Name)
	}
	switch r.Type {
	case WhitelistContent, WhitelistUser, WhitelistProject, WhitelistIP:
	default:
		return whitelistEntry{}, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidWhitelist, r.Name, r.Type)
	}

	e := whitelistEntry{rule: r}
	switch r.MatchType {
	case MatchExact:
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return whitelistEntry{}, fmt.Errorf("%w: %s: %v", ErrInvalidWhitelist, r.Name, err)
		}
		e.re = re
	case MatchWildcard:
		if r.Type == WhitelistIP {
			if p, err := netip.ParsePrefix(r.Pattern); err == nil {
				e.prefix, e.isCIDR = p.Masked(), true
				break
			}
		}
		if _, err := path.Match(r.Pattern, ""); err != nil {
			return whitelistEntry{}, fmt.Errorf("%w: %s: %v", ErrInvalidWhitelist, r.Name, err)
		}
	default:
		return whitelistEntry{}, fmt.Errorf("%w: %s: unknown match type %q", ErrInvalidWhitelist, r.Name, r.MatchType)
	}
	return e, nil
}

func (e whitelistEntry) matches(value string) bool {
	if value == "" {
		return false
	}
	switch e.rule.MatchType {
	case MatchExact:
		return strings.EqualFold(value, e.rule.Pattern)
	case MatchRegex:
		return e.re.MatchString(value)
	case MatchWildcard:
		if e.isCIDR {
			addr, err := netip.ParseAddr(value)
			return err == nil && e.prefix.Contains(addr.Unmap())
		}
		ok, _ := path.Match(strings.ToLower(e.rule.Pattern), strings.ToLower(value))
		return ok
	default:
		return false
	}
}

// inScope reports whether the entry's optional project/user restriction
// admits this request.
func (e whitelistEntry) inScope(actor extensions.Actor, scope extensions.Scope) bool {
	if e.rule.Project != "" && e.rule.Project != scope.Project {
		return false
	}
	if e.rule.User != "" && e.rule.User != actor.ID {
		return false
	}
	return true
}

// Whitelist is a concurrent-safe set of whitelist entries.
type Whitelist struct {
	mu      sync.RWMutex
	entries []whitelistEntry
}

// NewWhitelist validates and installs rules.
func NewWhitelist(rules []WhitelistRule) (*Whitelist, error) {
	w := &Whitelist{}
	for _, r := range rules {
		if err := w.Add(r); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Add installs r, replacing an entry with the same name.
func (w *Whitelist) Add(r WhitelistRule) error {
	e, err := compileWhitelist(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		if w.entries[i].rule.Name == r.Name {
			w.entries[i] = e
			return nil
		}
	}
	w.entries = append(w.entries, e)
	return nil
}

// Remove deletes the entry named name.
func (w *Whitelist) Remove(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		if w.entries[i].rule.Name == name {
			w.entries = slices.Delete(w.entries, i, i+1)
			return true
		}
	}
	return false
}

// Rules returns a copy of the installed entries.
func (w *Whitelist) Rules() []WhitelistRule {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]WhitelistRule, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.rule
	}
	return out
}

// Match returns the first active entry that clears the request.
//
// User, project and ip entries clear the request when they match the actor,
// the scope or the client address. Content entries clear it only when every
// matched value is covered by some content entry (or, for ip_address
// matches, some ip entry). Expired and disabled entries never match.
func (w *Whitelist) Match(res pe.Result, actor extensions.Actor, scope extensions.Scope, now time.Time) (WhitelistRule, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var active []whitelistEntry
	for _, e := range w.entries {
		if e.rule.Active(now) && e.inScope(actor, scope) {
			active = append(active, e)
		}
	}

	for _, e := range active {
		switch e.rule.Type {
		case WhitelistUser:
			if e.matches(actor.ID) {
				return e.rule, true
			}
		case WhitelistProject:
			if e.matches(scope.Project) {
				return e.rule, true
			}
		case WhitelistIP:
			if e.matches(actor.IP) {
				return e.rule, true
			}
		}
	}

	return coverValues(active, res)
}

func coverValues(active []whitelistEntry, res pe.Result) (WhitelistRule, bool) {
	if len(res.Matches) == 0 {
		return WhitelistRule{}, false
	}
	var first *WhitelistRule
	for _, m := range res.Matches {
		for _, v := range m.Values {
			covered := false
			for i := range active {
				e := &active[i]
				if e.rule.Type == WhitelistContent || (e.rule.Type == WhitelistIP && m.Type == pe.RuleTypeIPAddress) {
					if e.matches(v) {
						covered = true
						if first == nil {
							first = &e.rule
						}
						break
					}
				}
			}
			if !covered {
				return WhitelistRule{}, false
			}
		}
	}
	if first == nil {
		return WhitelistRule{}, false
	}
	return *first, true
}
