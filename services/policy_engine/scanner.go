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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dataguard.scanner")

// Scan failure reasons.
var (
	ErrContentTooLarge  = errors.New("content exceeds maximum scan size")
	ErrScanDeadline     = errors.New("scan deadline exceeded")
	ErrNoRulesAvailable = errors.New("no rule set available")
)

// ScannerConfig bounds a single scan.
type ScannerConfig struct {
	// MaxContentBytes rejects larger content with a failed result. 0 = no limit.
	MaxContentBytes int
	// Timeout bounds rule evaluation. 0 = only the caller's context applies.
	Timeout time.Duration
	// PreviewLength is the preview size before masking.
	PreviewLength int
}

// DefaultScannerConfig returns 10 MiB / 30s / 200 characters.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		MaxContentBytes: 10 << 20,
		Timeout:         30 * time.Second,
		PreviewLength:   DefaultPreviewLength,
	}
}

// ScanObserver receives one callback per completed scan. Used for metrics.
type ScanObserver interface {
	ObserveScan(res Result, cacheHit bool, elapsed time.Duration)
}

// Scanner applies the active rule set to content.
//
// Scan never panics and never returns an error: internal failures produce
// a Result with Status ScanFailed. Safe for concurrent use.
type Scanner struct {
	registry *Registry
	cache    ResultCache
	cfg      ScannerConfig
	logger   *logging.Logger
	observer ScanObserver
}

// ScannerOption customizes a Scanner.
type ScannerOption func(*Scanner)

// WithResultCache plugs in a result cache.
func WithResultCache(c ResultCache) ScannerOption {
	return func(s *Scanner) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithScannerLogger sets the logger.
func WithScannerLogger(l *logging.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScanObserver registers a per-scan callback.
func WithScanObserver(o ScanObserver) ScannerOption {
	return func(s *Scanner) { s.observer = o }
}

// NewScanner creates a scanner over registry.
func NewScanner(registry *Registry, cfg ScannerConfig, opts ...ScannerOption) *Scanner {
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	s := &Scanner{
		registry: registry,
		cache:    NopCache{},
		cfg:      cfg,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the rule registry the scanner reads from.
func (s *Scanner) Registry() *Registry {
	return s.registry
}

// Scan inspects content and returns the detection result.
//
// Blank content is clean without consulting the cache. Otherwise the result
// cache is checked by content hash, and on a miss every eligible rule is run
// in registry order. Failed and partial results are never cached.
func (s *Scanner) Scan(ctx context.Context, content string) (res Result) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Scanner.Scan",
		trace.WithAttributes(attribute.Int("content.bytes", len(content))),
	)
	hit := false
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("scan aborted by internal error", "panic", fmt.Sprint(rec))
			res = failedResult("internal scanner error")
		}
		span.SetAttributes(
			attribute.String("scan.status", string(res.Status)),
			attribute.String("scan.risk_level", string(res.Level)),
			attribute.Bool("cache.hit", hit),
		)
		span.End()
		if s.observer != nil {
			s.observer.ObserveScan(res, hit, time.Since(start))
		}
	}()

	if strings.TrimSpace(content) == "" {
		return emptyResult()
	}

	hash := ContentHash(content)
	if s.cfg.MaxContentBytes > 0 && len(content) > s.cfg.MaxContentBytes {
		s.logger.Warn("content rejected by size limit",
			"content_hash", hash,
			"bytes", len(content),
			"limit", s.cfg.MaxContentBytes,
		)
		res = failedResult(ErrContentTooLarge.Error())
		res.ContentHash = hash
		return res
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	set := s.registry.Load(ctx)
	if set == nil {
		res = failedResult(ErrNoRulesAvailable.Error())
		res.ContentHash = hash
		return res
	}

	res, hit = s.cache.GetOrCompute(ctx, hash, set.Version, func(ctx context.Context) (Result, bool) {
		r := s.evaluate(ctx, set, content)
		r.ContentHash = hash
		return r, r.Status != ScanFailed && !r.Partial
	})
	return res
}

func (s *Scanner) evaluate(ctx context.Context, set *RuleSet, content string) Result {
	res := emptyResult()
	res.RulesVersion = set.Version

	eligible := set.prefilter.eligible(content)
	found := make(map[RuleType]bool)

	for i, rule := range set.Rules {
		if ctx.Err() != nil {
			if len(res.Matches) == 0 {
				failed := failedResult(ErrScanDeadline.Error())
				failed.RulesVersion = set.Version
				return failed
			}
			res.Partial = true
			res.Error = ErrScanDeadline.Error()
			break
		}
		if !eligible[i] {
			continue
		}
		m, ok := s.matchRule(rule, content)
		if !ok {
			continue
		}
		res.Matches = append(res.Matches, m)
		res.Level = MaxRisk(res.Level, rule.Level)
		found[rule.Type] = true
	}

	if len(res.Matches) == 0 {
		return res
	}
	res.Status = ScanDetected
	res.Detected = true
	res.Preview = s.preview(content, found, res.Matches)
	res.Suggestions = Suggestions(res.Matches)
	return res
}

// matchRule isolates one rule: a failure skips the rule only.
func (s *Scanner) matchRule(rule *Rule, content string) (m Match, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("rule evaluation failed, rule skipped", "rule", rule.Name, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()

	all := rule.compiled.FindAllString(content, -1)
	if len(all) == 0 {
		return Match{}, false
	}

	seen := make(map[string]struct{}, len(all))
	values := make([]string, 0, len(all))
	for _, v := range all {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	return Match{
		RuleName: rule.Name,
		Type:     rule.Type,
		Label:    rule.Label,
		Level:    rule.Level,
		Priority: rule.Priority,
		Values:   values,
		Count:    len(all),
	}, true
}

// preview masks values of families without a pattern mask on the full
// content first, so truncation cannot cut one in half.
func (s *Scanner) preview(content string, found map[RuleType]bool, matches []Match) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("preview masking failed", "panic", fmt.Sprint(rec))
			out = ""
		}
	}()
	return BuildPreview(MaskValues(content, unmaskedValues(matches)), found, s.cfg.PreviewLength)
}
