// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no entry has the given id.
	ErrNotFound = errors.New("audit entry not found")

	// ErrReviewPrecondition is returned by approve and reject when the entry
	// is not pending review. It is not retried.
	ErrReviewPrecondition = errors.New("entry is not pending review")

	// ErrStore wraps persistence failures. Callers may retry.
	ErrStore = errors.New("audit store failure")

	// ErrInvalidEntry is returned for entries that violate the model.
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Filter selects entries. Zero fields do not filter.
type Filter struct {
	ProjectID      string        `json:"project_id,omitempty" form:"project_id"`
	ActorID        string        `json:"actor_id,omitempty" form:"actor_id"`
	RiskLevel      pe.RiskLevel  `json:"risk_level,omitempty" form:"risk_level"`
	OperationType  OperationType `json:"operation_type,omitempty" form:"operation_type"`
	ReviewStatus   ReviewStatus  `json:"review_status,omitempty" form:"review_status"`
	RequiresReview *bool         `json:"requires_review,omitempty" form:"requires_review"`
	// From and To bound CreatedAt: From inclusive, To exclusive.
	From time.Time `json:"from,omitempty" form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `json:"to,omitempty" form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	// Search is a case-insensitive substring over preview, rule types and
	// review comment.
	Search string `json:"search,omitempty" form:"q"`

	Offset int `json:"offset,omitempty" form:"offset"`
	// Limit 0 means no limit.
	Limit int `json:"limit,omitempty" form:"limit"`
}

// Matches reports whether e passes every predicate of f. Pagination is
// not considered.
func (f Filter) Matches(e *Entry) bool {
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.OperationType != "" && e.OperationType != f.OperationType {
		return false
	}
	if f.ReviewStatus != "" && e.ReviewStatus != f.ReviewStatus {
		return false
	}
	if f.RequiresReview != nil && e.RequiresReview != *f.RequiresReview {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if f.Search != "" && !strings.Contains(e.searchText(), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// Page is one page of query results, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	// Total counts all matching entries before pagination.
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Purge selects entries for bulk deletion by the retention service.
type Purge struct {
	// Before is exclusive: entries created strictly before it qualify.
	Before        time.Time
	RiskLevel     pe.RiskLevel
	OperationType OperationType
	// KeepPendingReview spares entries that still await review.
	KeepPendingReview bool
}

// Matches reports whether e is covered by the purge.
func (p Purge) Matches(e *Entry) bool {
	if !e.CreatedAt.Before(p.Before) {
		return false
	}
	if p.RiskLevel != "" && e.RiskLevel != p.RiskLevel {
		return false
	}
	if p.OperationType != "" && e.OperationType != p.OperationType {
		return false
	}
	if p.KeepPendingReview && e.CanBeReviewed() {
		return false
	}
	return true
}

// Store persists entries. Implementations must apply Update atomically per
// entry so two concurrent reviewers cannot both succeed.
type Store interface {
	Create(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)

	// Update loads the entry, calls fn on it and persists the result in one
	// transaction. An error from fn aborts the update and is returned as is.
	Update(ctx context.Context, id string, fn func(*Entry) error) (Entry, error)

	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, f Filter) (Page, error)
	DeleteWhere(ctx context.Context, p Purge) (int, error)
	Close() error
}

// SortNewestFirst orders entries by CreatedAt descending, then id.
func SortNewestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

// Paginate slices a sorted list according to f.
func Paginate(entries []Entry, f Filter) Page {
	page := Page{Total: len(entries), Offset: f.Offset, Limit: f.Limit}
	start := min(max(f.Offset, 0), len(entries))
	end := len(entries)
	if f.Limit > 0 {
		end = min(start+f.Limit, len(entries))
	}
	page.Entries = entries[start:end]
	if page.Entries == nil {
		page.Entries = []Entry{}
	}
	return page
}
