// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard is the entry point of the sensitive data engine.
//
// An Engine owns one rule registry, scanner, decision policy, audit service
// and retention service. Hosts build one Engine at startup and pass it
// around; nothing in the engine is package-level state.
//
// The usual request path is Check: scan the content, decide, and record an
// audit entry when something was detected. Reviewers then drive the entry
// through Approve, Reject or MarkForReview, and Cleanup purges old entries.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/notify"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/cache"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/AleutianAI/DataGuard/services/retention"
)

// ErrAttachmentsDisabled is returned by attachment scans when the feature is off.
var ErrAttachmentsDisabled = errors.New("attachment scanning is disabled")

// Review triggers for Config.ReviewOn.
const (
	ReviewOnBlock    = "block"
	ReviewOnWarn     = "warn"
	ReviewOnOverride = "override"
)

// Config assembles the engine's components.
type Config struct {
	Registry pe.RegistryConfig
	Scanner  pe.ScannerConfig
	Decision decision.Config

	// Whitelist entries. When empty and UseSeeds is set, the embedded seed
	// whitelist is installed instead.
	Whitelist []decision.WhitelistRule
	UseSeeds  bool

	Retention   retention.Policy
	Attachments attachments.Config

	// ReviewOn lists the outcomes whose audit entries require review.
	ReviewOn []string

	// NotifyTimeout bounds how long a check waits on the host notifier.
	// Zero means DefaultNotifyTimeout.
	NotifyTimeout time.Duration
}

// DefaultNotifyTimeout is the notifier deadline when Config leaves it unset.
const DefaultNotifyTimeout = 5 * time.Second

// DefaultConfig returns the built-in rules, default strategies, seed
// whitelist and review on block and override.
func DefaultConfig() Config {
	return Config{
		Scanner:     pe.DefaultScannerConfig(),
		UseSeeds:    true,
		Retention:   retention.DefaultPolicy(),
		Attachments: attachments.DefaultConfig(),
		ReviewOn:    []string{ReviewOnBlock, ReviewOnOverride},

		NotifyTimeout: DefaultNotifyTimeout,
	}
}

// Engine wires detection, decision, audit and retention together.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Engine struct {
	registry    *pe.Registry
	scanner     *pe.Scanner
	cache       *cache.Cache
	policy      *decision.Policy
	audit       *audit.Service
	retention   *retention.Service
	attachments *attachments.Scanner
	notifier    extensions.Notifier
	notifyWait  time.Duration
	reviewOn    map[string]bool
	logger      *logging.Logger
}

type engineOptions struct {
	logger   *logging.Logger
	ext      extensions.ServiceOptions
	cache    *cache.Cache
	observer pe.ScanObserver
	now      func() time.Time
	newID    func() string
	journal  *retention.Journal
}

// Option customizes an Engine.
type Option func(*engineOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithExtensions plugs in the host's collaborators.
func WithExtensions(ext extensions.ServiceOptions) Option {
	return func(o *engineOptions) { o.ext = ext }
}

// WithCache enables result and rule-set caching.
func WithCache(c *cache.Cache) Option {
	return func(o *engineOptions) { o.cache = c }
}

// WithScanObserver receives one callback per scan.
func WithScanObserver(obs pe.ScanObserver) Option {
	return func(o *engineOptions) { o.observer = obs }
}

// WithClock replaces time.Now for audit timestamps, whitelist expiry and
// retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithIDGenerator replaces the audit entry id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *engineOptions) { o.newID = fn }
}

// WithJournal records every cleanup run in a hash-chained journal.
func WithJournal(j *retention.Journal) Option {
	return func(o *engineOptions) { o.journal = j }
}

// New builds an engine over store. The engine takes ownership of the store
// and the cache; Close releases both.
func New(cfg Config, store audit.Store, opts ...Option) (*Engine, error) {
	o := engineOptions{ext: extensions.DefaultOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	o.ext = o.ext.Normalize()
	if store == nil {
		return nil, errors.New("audit store is required")
	}

	regOpts := []pe.RegistryOption{pe.WithRegistryLogger(o.logger)}
	scanOpts := []pe.ScannerOption{pe.WithScannerLogger(o.logger)}
	if o.cache != nil {
		regOpts = append(regOpts, pe.WithRuleSetCache(o.cache))
		scanOpts = append(scanOpts, pe.WithResultCache(o.cache))
	}
	if o.observer != nil {
		scanOpts = append(scanOpts, pe.WithScanObserver(o.observer))
	}

	registry, err := pe.NewRegistry(cfg.Registry, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule registry: %w", err)
	}
	scanner := pe.NewScanner(registry, cfg.Scanner, scanOpts...)

	rules := cfg.Whitelist
	if len(rules) == 0 && cfg.UseSeeds {
		if rules, err = decision.SeedWhitelist(); err != nil {
			return nil, err
		}
	}
	whitelist, err := decision.NewWhitelist(rules)
	if err != nil {
		return nil, err
	}
	policyOpts := []decision.Option{decision.WithLogger(o.logger)}
	if o.now != nil {
		policyOpts = append(policyOpts, decision.WithClock(o.now))
	}
	policy := decision.NewPolicy(cfg.Decision, o.ext.Authorizer, whitelist, policyOpts...)

	var auditOpts []audit.Option
	if o.now != nil {
		auditOpts = append(auditOpts, audit.WithClock(o.now))
	}
	if o.newID != nil {
		auditOpts = append(auditOpts, audit.WithIDGenerator(o.newID))
	}
	auditSvc := audit.NewService(store, o.logger, auditOpts...)

	var retOpts []retention.Option
	if o.now != nil {
		retOpts = append(retOpts, retention.WithClock(o.now))
	}
	if o.journal != nil {
		retOpts = append(retOpts, retention.WithJournal(o.journal))
	}
	retSvc, err := retention.NewService(store, cfg.Retention, o.logger, retOpts...)
	if err != nil {
		return nil, err
	}

	notifyWait := cfg.NotifyTimeout
	if notifyWait <= 0 {
		notifyWait = DefaultNotifyTimeout
	}

	reviewOn := make(map[string]bool, len(cfg.ReviewOn))
	for _, k := range cfg.ReviewOn {
		reviewOn[k] = true
	}

	return &Engine{
		registry:    registry,
		scanner:     scanner,
		cache:       o.cache,
		policy:      policy,
		audit:       auditSvc,
		retention:   retSvc,
		attachments: attachments.NewScanner(cfg.Attachments, scanner, o.ext.TextExtractor, o.logger),
		notifier:    o.ext.Notifier,
		notifyWait:  notifyWait,
		reviewOn:    reviewOn,
		logger:      o.logger,
	}, nil
}

// Registry returns the rule registry.
func (e *Engine) Registry() *pe.Registry { return e.registry }

// Policy returns the decision policy.
func (e *Engine) Policy() *decision.Policy { return e.policy }

// Audit returns the audit service.
func (e *Engine) Audit() *audit.Service { return e.audit }

// Retention returns the retention service, for schedulers.
func (e *Engine) Retention() *retention.Service { return e.retention }

// Close releases the cache and the audit store.
func (e *Engine) Close() error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.audit.Store().Close())
	return errors.Join(errs...)
}

// =============================================================================
// Detection and decision
// =============================================================================

// Scan runs the content scanner.
func (e *Engine) Scan(ctx context.Context, content string) pe.Result {
	return e.scanner.Scan(ctx, content)
}

// Decide applies the decision policy to a scan result.
func (e *Engine) Decide(ctx context.Context, res pe.Result, actor extensions.Actor, scope extensions.Scope) decision.Decision {
	return e.policy.Decide(ctx, decision.Input{Result: res, Actor: actor, Scope: scope})
}

// CheckInput is one piece of content submitted by an actor.
type CheckInput struct {
	Content        string
	Actor          extensions.Actor
	Scope          extensions.Scope
	OverrideReason string
}

// Outcome is the result of Check.
type Outcome struct {
	Result   pe.Result         `json:"result"`
	Decision decision.Decision `json:"decision"`
	// Entry is the audit entry, nil when nothing was recorded.
	Entry *audit.Entry `json:"entry,omitempty"`
	// Message explains a warn or block to the actor.
	Message string `json:"message,omitempty"`
}

// Blocked reports whether the submission must be rejected.
func (o Outcome) Blocked() bool {
	return o.Decision.Action == decision.ActionBlock
}

// Err returns a *SecurityError for blocked submissions and nil otherwise.
func (o Outcome) Err() error {
	if !o.Blocked() {
		return nil
	}
	return &SecurityError{
		Level:     o.Decision.Level,
		RuleTypes: o.Result.RuleTypes(),
		Message:   o.Message,
	}
}

// Check scans, decides and records. The returned error reports a failure
// to record the audit entry; the Outcome is valid either way.
func (e *Engine) Check(ctx context.Context, in CheckInput) (Outcome, error) {
	res := e.Scan(ctx, in.Content)
	d := e.Decide(ctx, res, in.Actor, in.Scope)
	out := Outcome{Result: res, Decision: d, Message: actionMessage(res, d)}

	entry, err := e.RecordEvent(ctx, Event{
		Result:         res,
		Decision:       d,
		Actor:          in.Actor,
		Scope:          in.Scope,
		OverrideReason: in.OverrideReason,
	})
	out.Entry = entry
	return out, err
}

func actionMessage(res pe.Result, d decision.Decision) string {
	switch d.Action {
	case decision.ActionBlock:
		return "submission blocked: " + pe.ErrorMessage(res)
	case decision.ActionWarn:
		return "sensitive data detected: " + pe.ErrorMessage(res)
	}
	return ""
}

// =============================================================================
// Audit events
// =============================================================================

// Event is a decision worth auditing.
type Event struct {
	Result   pe.Result
	Decision decision.Decision
	Actor    extensions.Actor
	Scope    extensions.Scope
	// OperationType overrides the type derived from the decision.
	OperationType  audit.OperationType
	OverrideReason string
	FileType       string
	FileSize       int64
}

// RecordEvent persists an audit entry for a detection and notifies the
// host. Clean and failed scans record nothing and return a nil entry.
// Notification failures are logged, never returned.
func (e *Engine) RecordEvent(ctx context.Context, ev Event) (*audit.Entry, error) {
	if ev.Result.Failed() {
		e.logger.Warn("scan failed, no audit entry recorded",
			"actor", ev.Actor.ID,
			"action", ev.Decision.Action,
			"error", ev.Result.Error,
		)
		return nil, nil
	}
	if !ev.Result.Detected {
		return nil, nil
	}

	op := ev.OperationType
	if op == "" {
		op = operationFor(ev.Decision)
	}
	contentType := audit.ContentType(ev.Scope.ContentType)
	if contentType == "" {
		contentType = audit.ContentMessage
	}

	entry, err := e.audit.Record(ctx, audit.RecordInput{
		ActorID:        ev.Actor.ID,
		ProjectID:      ev.Scope.Project,
		OperationType:  op,
		ContentType:    contentType,
		RiskLevel:      ev.Result.Level,
		RuleTypes:      ev.Result.RuleTypes(),
		Preview:        ev.Result.Preview,
		OverrideReason: ev.OverrideReason,
		FileType:       ev.FileType,
		FileSize:       ev.FileSize,
		IPAddress:      ev.Actor.IP,
		UserAgent:      ev.Actor.UserAgent,
		RequiresReview: e.reviewOn[reviewKey(ev.Decision)],
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, entry, ev.Actor, ev.Scope, ev.Decision.Action)
	return &entry, nil
}

// operationFor maps a decision to the audit operation type.
func operationFor(d decision.Decision) audit.OperationType {
	switch {
	case d.Override():
		return audit.OpOverride
	case d.Action == decision.ActionBlock:
		return audit.OpBlockedSubmission
	case d.Action == decision.ActionWarn:
		return audit.OpWarning
	}
	return audit.OpDetection
}

func reviewKey(d decision.Decision) string {
	if d.Override() {
		return ReviewOnOverride
	}
	return string(d.Action)
}

func (e *Engine) notify(ctx context.Context, entry audit.Entry, actor extensions.Actor, scope extensions.Scope, action decision.Action) {
	n := extensions.Notification{
		EntryID:        entry.ID,
		Actor:          actor,
		Scope:          scope,
		OperationType:  string(entry.OperationType),
		RiskLevel:      string(entry.RiskLevel),
		Action:         string(action),
		RuleTypes:      entry.RuleTypes,
		Preview:        entry.Preview,
		RequiresReview: entry.RequiresReview,
		CreatedAt:      entry.CreatedAt,
	}
	if err := e.deliver(ctx, n); err != nil {
		e.logger.Warn("notification failed", "entry_id", entry.ID, "error", err)
	}
}

// deliver calls the host notifier without letting it fail or stall the
// caller. A dispatcher only enqueues and is called directly; any other
// notifier runs on its own goroutine under notifyWait, and a panic is
// turned into an error. A notifier that ignores its context keeps running
// after the deadline but the caller no longer waits for it.
func (e *Engine) deliver(ctx context.Context, n extensions.Notification) error {
	if d, ok := e.notifier.(*notify.Dispatcher); ok {
		return d.Notify(ctx, n)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyWait)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("notifier panicked: %v", r)
			}
		}()
		done <- e.notifier.Notify(ctx, n)
	}()

	select {
	case err := <-done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("notifier did not return within %s", e.notifyWait)
	}
}

// =============================================================================
// Review
// =============================================================================

// Approve moves a pending entry to approved. An empty decision means allow.
func (e *Engine) Approve(ctx context.Context, id, reviewer, comment string, d audit.ReviewDecision) (audit.Entry, error) {
	return e.audit.Approve(ctx, id, reviewer, comment, d)
}

// Reject moves a pending entry to rejected. An empty decision means block.
func (e *Engine) Reject(ctx context.Context, id, reviewer, comment string, d audit.ReviewDecision) (audit.Entry, error) {
	return e.audit.Reject(ctx, id, reviewer, comment, d)
}

// MarkForReview flags an entry for review and notifies the host.
func (e *Engine) MarkForReview(ctx context.Context, id string) (audit.Entry, error) {
	entry, err := e.audit.MarkForReview(ctx, id)
	if err != nil {
		return audit.Entry{}, err
	}
	e.notify(ctx, entry, extensions.Actor{ID: entry.ActorID, IP: entry.IPAddress, UserAgent: entry.UserAgent},
		extensions.Scope{Project: entry.ProjectID, ContentType: string(entry.ContentType)}, "")
	return entry, nil
}

// BulkApprove approves each id independently.
func (e *Engine) BulkApprove(ctx context.Context, ids []string, reviewer, comment string, d audit.ReviewDecision) audit.BulkResult {
	return e.audit.BulkApprove(ctx, ids, reviewer, comment, d)
}

// BulkReject rejects each id independently.
func (e *Engine) BulkReject(ctx context.Context, ids []string, reviewer, comment string, d audit.ReviewDecision) audit.BulkResult {
	return e.audit.BulkReject(ctx, ids, reviewer, comment, d)
}

// Get returns one audit entry.
func (e *Engine) Get(ctx context.Context, id string) (audit.Entry, error) {
	return e.audit.Get(ctx, id)
}

// Query lists audit entries newest first.
func (e *Engine) Query(ctx context.Context, f audit.Filter) (audit.Page, error) {
	return e.audit.Query(ctx, f)
}

// Statistics aggregates the entries selected by f.
func (e *Engine) Statistics(ctx context.Context, f audit.Filter) (audit.Statistics, error) {
	return e.audit.Statistics(ctx, f)
}

// ReviewStatistics aggregates review state of the entries selected by f.
func (e *Engine) ReviewStatistics(ctx context.Context, f audit.Filter) (audit.ReviewStatistics, error) {
	return e.audit.ReviewStatistics(ctx, f)
}

// =============================================================================
// Retention
// =============================================================================

// Cleanup purges expired audit entries.
func (e *Engine) Cleanup(ctx context.Context) retention.CleanupReport {
	return e.retention.Cleanup(ctx)
}

// Report summarizes the audit log for retention planning.
func (e *Engine) Report(ctx context.Context) (retention.Report, error) {
	return e.retention.Report(ctx)
}

// Export returns the newest entries for archival.
func (e *Engine) Export(ctx context.Context) (retention.Export, error) {
	return e.retention.Export(ctx)
}

// =============================================================================
// Rules and cache
// =============================================================================

// Rules returns the merged rule catalog.
func (e *Engine) Rules() ([]pe.RuleStatus, error) {
	return e.registry.Catalog()
}

// SetRuleEnabled toggles one rule at runtime.
func (e *Engine) SetRuleEnabled(ctx context.Context, name string, enabled bool) error {
	return e.registry.SetEnabled(ctx, name, enabled)
}

// Reload re-reads operator rules.
func (e *Engine) Reload(ctx context.Context) error {
	return e.registry.Reload(ctx)
}

// CacheHealth reports the result cache. Without a cache it reports a
// healthy "none" backend.
func (e *Engine) CacheHealth(ctx context.Context) cache.Health {
	if e.cache == nil {
		return cache.Health{Backend: cache.NopBackend{}.Name(), Healthy: true}
	}
	return e.cache.Health(ctx)
}

// InvalidateCache drops cached results under prefix ("" for all).
func (e *Engine) InvalidateCache(ctx context.Context, prefix string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.Invalidate(ctx, prefix)
}
