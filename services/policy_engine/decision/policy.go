// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decision turns a scan result into ALLOW, WARN or BLOCK.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
)

// Action is the outcome handed back to the host.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// Severity orders actions: block 2, warn 1, allow 0.
func (a Action) Severity() int {
	switch a {
	case ActionBlock:
		return 2
	case ActionWarn:
		return 1
	default:
		return 0
	}
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAllow, ActionWarn, ActionBlock:
		return a, nil
	default:
		return "", fmt.Errorf("invalid action %q", s)
	}
}

// Strategy is the configured handling of one tier.
type Strategy string

const (
	StrategyBlock Strategy = "block"
	StrategyWarn  Strategy = "warn"
	StrategyLog   Strategy = "log"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyBlock, StrategyWarn, StrategyLog:
		return st, nil
	default:
		return "", fmt.Errorf("invalid strategy %q", s)
	}
}

// Action maps the strategy onto a decision: log allows the content but the
// event is still recorded.
func (s Strategy) Action() Action {
	switch s {
	case StrategyBlock:
		return ActionBlock
	case StrategyWarn:
		return ActionWarn
	default:
		return ActionAllow
	}
}

// Strategies maps each tier to its handling.
type Strategies map[pe.RiskLevel]Strategy

// DefaultStrategies blocks high, warns on medium and logs low.
func DefaultStrategies() Strategies {
	return Strategies{
		pe.RiskHigh:   StrategyBlock,
		pe.RiskMedium: StrategyWarn,
		pe.RiskLow:    StrategyLog,
	}
}

// For returns the strategy of level, falling back to the default.
func (s Strategies) For(level pe.RiskLevel) Strategy {
	if st, ok := s[level]; ok {
		return st
	}
	if st, ok := DefaultStrategies()[level]; ok {
		return st
	}
	return StrategyLog
}

// Decision reasons.
const (
	ReasonClean       = "clean"
	ReasonScanFailed  = "scan_failed"
	ReasonOverride    = "override"
	ReasonWhitelisted = "whitelisted"
	ReasonStrategy    = "strategy"
	ReasonLogged      = "logged"
)

// Decision is the outcome of Decide.
type Decision struct {
	Action    Action       `json:"action"`
	Reason    string       `json:"reason"`
	Level     pe.RiskLevel `json:"risk_level"`
	Whitelist string       `json:"whitelist,omitempty"`
}

// Override reports whether the actor's override capability decided.
func (d Decision) Override() bool {
	return d.Reason == ReasonOverride
}

// Input is everything Decide looks at.
type Input struct {
	Result pe.Result
	Actor  extensions.Actor
	Scope  extensions.Scope
}

// Config tunes a Policy.
type Config struct {
	Strategies Strategies
	// OnScanFailure is returned when the scan itself failed. Default allow.
	OnScanFailure Action
}

// Policy decides what happens to scanned content. Safe for concurrent use.
type Policy struct {
	strategies    Strategies
	onScanFailure Action
	authorizer    extensions.Authorizer
	whitelist     *Whitelist
	logger        *logging.Logger
	now           func() time.Time
}

// Option customizes a Policy.
type Option func(*Policy)

// WithClock replaces time.Now, used for whitelist expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPolicy creates a policy. A nil authorizer grants nothing and a nil
// whitelist is empty.
func NewPolicy(cfg Config, authorizer extensions.Authorizer, whitelist *Whitelist, opts ...Option) *Policy {
	strategies := DefaultStrategies()
	for level, st := range cfg.Strategies {
		strategies[level] = st
	}
	if cfg.OnScanFailure == "" {
		cfg.OnScanFailure = ActionAllow
	}
	if authorizer == nil {
		authorizer = extensions.NopAuthorizer{}
	}
	if whitelist == nil {
		whitelist = &Whitelist{}
	}
	p := &Policy{
		strategies:    strategies,
		onScanFailure: cfg.OnScanFailure,
		authorizer:    authorizer,
		whitelist:     whitelist,
		logger:        logging.Discard(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Whitelist returns the policy's whitelist for administration.
func (p *Policy) Whitelist() *Whitelist {
	return p.whitelist
}

// Strategies returns a copy of the effective tier strategies.
func (p *Policy) Strategies() Strategies {
	out := make(Strategies, len(p.strategies))
	for k, v := range p.strategies {
		out[k] = v
	}
	return out
}

// Decide evaluates, in order: detection, override capability, whitelist,
// tier strategy. The first rule that applies wins.
func (p *Policy) Decide(ctx context.Context, in Input) Decision {
	res := in.Result
	if res.Failed() {
		p.logger.Warn("scan failed, applying failure action",
			"action", p.onScanFailure,
			"content_hash", res.ContentHash,
			"error", res.Error,
		)
		return Decision{Action: p.onScanFailure, Reason: ReasonScanFailed, Level: pe.RiskNone}
	}
	if !res.Detected {
		return Decision{Action: ActionAllow, Reason: ReasonClean, Level: pe.RiskNone}
	}

	if p.authorizer.HasOverride(ctx, in.Actor, in.Scope) {
		p.logger.Info("override capability applied",
			"actor", in.Actor.ID,
			"project", in.Scope.Project,
			"risk_level", res.Level,
		)
		return Decision{Action: ActionAllow, Reason: ReasonOverride, Level: res.Level}
	}

	if rule, ok := p.whitelist.Match(res, in.Actor, in.Scope, p.now()); ok {
		p.logger.Debug("whitelist matched", "whitelist", rule.Name, "type", rule.Type)
		return Decision{Action: ActionAllow, Reason: ReasonWhitelisted, Level: res.Level, Whitelist: rule.Name}
	}

	st := p.strategies.For(res.Level)
	reason := ReasonStrategy
	if st == StrategyLog {
		reason = ReasonLogged
	}
	return Decision{Action: st.Action(), Reason: reason, Level: res.Level}
}
