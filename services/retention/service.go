// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
)

// ExportLimit caps the entries in an archival export.
const ExportLimit = 1000

// Thresholds for report recommendations.
const (
	largeLogThreshold      = 10000
	highRiskRatioThreshold = 20.0
)

// TierError is the failure of one cleanup pass.
type TierError struct {
	Tier  string `json:"tier"`
	Error string `json:"error"`
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	DeletedByTier map[string]int `json:"deleted_by_tier"`
	Errors        []TierError    `json:"errors"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
}

// Total sums the deletions of every pass.
func (r CleanupReport) Total() int {
	n := 0
	for _, v := range r.DeletedByTier {
		n += v
	}
	return n
}

// Duration is the wall time of the run.
func (r CleanupReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// HasErrors reports whether any pass failed.
func (r CleanupReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// Report describes the audit log against the retention policy.
type Report struct {
	GeneratedAt time.Time            `json:"generated_at"`
	TotalCount  int                  `json:"total_count"`
	ByRiskLevel map[pe.RiskLevel]int `json:"by_risk_level"`
	OldestEntry *time.Time           `json:"oldest_entry,omitempty"`
	NewestEntry *time.Time           `json:"newest_entry,omitempty"`
	Policy      Policy               `json:"policy"`
	// EligibleByTier counts what Cleanup would delete right now.
	EligibleByTier  map[string]int `json:"eligible_by_tier"`
	Recommendations []string       `json:"recommendations"`
}

// ExportRecord is one archived entry.
type ExportRecord struct {
	ID            string              `json:"id"`
	ActorID       string              `json:"actor_id"`
	ProjectID     string              `json:"project_id,omitempty"`
	OperationType audit.OperationType `json:"operation_type"`
	ContentType   audit.ContentType   `json:"content_type"`
	RiskLevel     pe.RiskLevel        `json:"risk_level"`
	RuleTypes     []string            `json:"rule_types"`
	Preview       string              `json:"preview"`
	IPAddress     string              `json:"ip_address,omitempty"`
	ReviewStatus  audit.ReviewStatus  `json:"review_status"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Export is the archival bundle.
type Export struct {
	Entries    []ExportRecord `json:"entries"`
	ExportedAt time.Time      `json:"exported_at"`
	TotalCount int            `json:"total_count"`
	Truncated  bool           `json:"truncated"`
}

// Service applies the retention policy to an audit store.
type Service struct {
	store   audit.Store
	policy  Policy
	logger  *logging.Logger
	now     func() time.Time
	journal *Journal
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithJournal records every cleanup run in j.
func WithJournal(j *Journal) Option {
	return func(s *Service) { s.journal = j }
}

// NewService validates policy and returns the service.
func NewService(store audit.Store, policy Policy, logger *logging.Logger, opts ...Option) (*Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Service{store: store, policy: policy, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the active policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Cleanup runs the four passes. A failing pass is recorded and the rest
// still run.
func (s *Service) Cleanup(ctx context.Context) CleanupReport {
	now := s.now()
	report := CleanupReport{
		DeletedByTier: make(map[string]int, len(Tiers)),
		Errors:        []TierError{},
		StartTime:     now,
	}
	for _, tier := range Tiers {
		purge := s.policy.Purge(tier, now)
		n, err := s.store.DeleteWhere(ctx, purge)
		report.DeletedByTier[tier] = n
		if err != nil {
			report.Errors = append(report.Errors, TierError{Tier: tier, Error: err.Error()})
			s.logger.Error("retention pass failed", "tier", tier, "deleted", n, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("retention pass deleted entries",
				"tier", tier,
				"deleted", n,
				"retention_days", s.policy.Days(tier),
			)
		}
	}
	report.EndTime = s.now()

	s.logger.Info("retention cleanup finished",
		"deleted", report.Total(),
		"errors", len(report.Errors),
		"duration_ms", report.Duration().Milliseconds(),
	)
	if s.journal != nil {
		if _, err := s.journal.Append(report); err != nil {
			s.logger.Error("failed to journal retention cleanup", "error", err)
		}
	}
	return report
}

// Report summarizes the store against the policy without deleting.
func (s *Service) Report(ctx context.Context) (Report, error) {
	page, err := s.store.Query(ctx, audit.Filter{})
	if err != nil {
		return Report{}, fmt.Errorf("retention report: %w", err)
	}
	now := s.now()
	r := Report{
		GeneratedAt:    now,
		TotalCount:     len(page.Entries),
		ByRiskLevel:    make(map[pe.RiskLevel]int, len(pe.RiskLevels)),
		Policy:         s.policy,
		EligibleByTier: make(map[string]int, len(Tiers)),
	}
	for _, l := range pe.RiskLevels {
		r.ByRiskLevel[l] = 0
	}
	purges := make(map[string]audit.Purge, len(Tiers))
	for _, tier := range Tiers {
		purges[tier] = s.policy.Purge(tier, now)
		r.EligibleByTier[tier] = 0
	}

	for i := range page.Entries {
		e := &page.Entries[i]
		r.ByRiskLevel[e.RiskLevel]++
		if r.OldestEntry == nil || e.CreatedAt.Before(*r.OldestEntry) {
			t := e.CreatedAt
			r.OldestEntry = &t
		}
		if r.NewestEntry == nil || e.CreatedAt.After(*r.NewestEntry) {
			t := e.CreatedAt
			r.NewestEntry = &t
		}
		// Count each entry under the first pass that would remove it.
		for _, tier := range Tiers {
			if purges[tier].Matches(e) {
				r.EligibleByTier[tier]++
				break
			}
		}
	}
	r.Recommendations = recommendations(r)
	return r, nil
}

func recommendations(r Report) []string {
	var out []string
	if r.TotalCount > largeLogThreshold {
		out = append(out, fmt.Sprintf("audit log holds %d entries; schedule regular cleanup", r.TotalCount))
	}
	if r.TotalCount > 0 {
		ratio := float64(r.ByRiskLevel[pe.RiskHigh]) / float64(r.TotalCount) * 100
		if ratio > highRiskRatioThreshold {
			out = append(out, fmt.Sprintf("high-risk entries are %.1f%% of the log; review detection coverage and user training", math.Round(ratio*10)/10))
		}
	}
	if len(out) == 0 {
		out = append(out, "audit log is healthy; no action needed")
	}
	return out
}

// Export returns the newest ExportLimit entries for archival.
func (s *Service) Export(ctx context.Context) (Export, error) {
	page, err := s.store.Query(ctx, audit.Filter{Limit: ExportLimit})
	if err != nil {
		return Export{}, fmt.Errorf("retention export: %w", err)
	}
	out := Export{
		Entries:    make([]ExportRecord, 0, len(page.Entries)),
		ExportedAt: s.now(),
		TotalCount: page.Total,
		Truncated:  page.Total > len(page.Entries),
	}
	for _, e := range page.Entries {
		out.Entries = append(out.Entries, ExportRecord{
			ID:            e.ID,
			ActorID:       e.ActorID,
			ProjectID:     e.ProjectID,
			OperationType: e.OperationType,
			ContentType:   e.ContentType,
			RiskLevel:     e.RiskLevel,
			RuleTypes:     e.RuleTypes,
			Preview:       e.Preview,
			IPAddress:     e.IPAddress,
			ReviewStatus:  e.ReviewStatus,
			CreatedAt:     e.CreatedAt,
		})
	}
	s.logger.Info("audit log exported", "entries", len(out.Entries), "total", out.TotalCount)
	return out, nil
}
