// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention deletes audit entries that have outlived their
// retention window and reports on the state of the audit log.
//
// Windows are per tier, with a separate window for override entries:
//
//	high      2555 days (7 years)
//	medium    1095 days (3 years)
//	low       1095 days (3 years)
//	override  1825 days (5 years)
//
// Passes run in that order. An entry is deleted when its creation time is
// strictly before now minus the window of any pass that selects it.
package retention

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
)

// Tier names used as keys of CleanupReport.DeletedByTier.
const (
	TierHigh     = "high"
	TierMedium   = "medium"
	TierLow      = "low"
	TierOverride = "override"
)

// Tiers is the pass order.
var Tiers = []string{TierHigh, TierMedium, TierLow, TierOverride}

// ErrInvalidPolicy is returned for non-positive windows.
var ErrInvalidPolicy = errors.New("invalid retention policy")

// Policy holds the retention windows in days.
type Policy struct {
	HighDays     int `json:"high_days" yaml:"high_days"`
	MediumDays   int `json:"medium_days" yaml:"medium_days"`
	LowDays      int `json:"low_days" yaml:"low_days"`
	OverrideDays int `json:"override_days" yaml:"override_days"`

	// ExemptPendingReview spares entries still awaiting review regardless
	// of age. Off by default.
	ExemptPendingReview bool `json:"exempt_pending_review" yaml:"exempt_pending_review"`
}

// DefaultPolicy returns the compliance defaults.
func DefaultPolicy() Policy {
	return Policy{
		HighDays:     2555,
		MediumDays:   1095,
		LowDays:      1095,
		OverrideDays: 1825,
	}
}

// Validate rejects windows that would delete everything.
func (p Policy) Validate() error {
	for tier, days := range map[string]int{
		TierHigh: p.HighDays, TierMedium: p.MediumDays, TierLow: p.LowDays, TierOverride: p.OverrideDays,
	} {
		if days <= 0 {
			return fmt.Errorf("%w: %s window must be positive, got %d", ErrInvalidPolicy, tier, days)
		}
	}
	return nil
}

// Days returns the window for tier.
func (p Policy) Days(tier string) int {
	switch tier {
	case TierHigh:
		return p.HighDays
	case TierMedium:
		return p.MediumDays
	case TierLow:
		return p.LowDays
	case TierOverride:
		return p.OverrideDays
	}
	return 0
}

// Cutoff returns the instant before which entries of tier expire.
func (p Policy) Cutoff(tier string, now time.Time) time.Time {
	return now.AddDate(0, 0, -p.Days(tier))
}

// Purge builds the store selector for one pass.
func (p Policy) Purge(tier string, now time.Time) audit.Purge {
	purge := audit.Purge{
		Before:            p.Cutoff(tier, now),
		KeepPendingReview: p.ExemptPendingReview,
	}
	switch tier {
	case TierHigh:
		purge.RiskLevel = pe.RiskHigh
	case TierMedium:
		purge.RiskLevel = pe.RiskMedium
	case TierLow:
		purge.RiskLevel = pe.RiskLow
	case TierOverride:
		purge.OperationType = audit.OpOverride
	}
	return purge
}
