// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records sensitive operations and drives their review.
//
// Every entry starts pending. Entries flagged for review move to approved
// or rejected exactly once; MarkForReview reopens any entry. The Store
// applies each transition atomically, so two reviewers racing on the same
// entry see one success and one ErrReviewPrecondition.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/google/uuid"
)

// RecordInput describes a new entry. Preview must already be masked.
type RecordInput struct {
	ActorID        string
	ProjectID      string
	OperationType  OperationType
	ContentType    ContentType
	RiskLevel      pe.RiskLevel
	RuleTypes      []string
	Preview        string
	OverrideReason string
	FileType       string
	FileSize       int64
	IPAddress      string
	UserAgent      string
	RequiresReview bool
}

// BulkFailure names one id a bulk operation could not transition.
type BulkFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	// Skipped is true when the entry was simply not pending review.
	Skipped bool `json:"skipped"`
}

// BulkResult summarizes a bulk review.
type BulkResult struct {
	Succeeded int           `json:"succeeded"`
	Failures  []BulkFailure `json:"failures"`
}

// Statistics aggregates entries by tier and operation type.
type Statistics struct {
	Total           int                   `json:"total"`
	ByRiskLevel     map[pe.RiskLevel]int  `json:"by_risk_level"`
	ByOperationType map[OperationType]int `json:"by_operation_type"`
	Blocked         int                   `json:"blocked"`
	Warnings        int                   `json:"warnings"`
	Overrides       int                   `json:"overrides"`
}

// ReviewStatistics aggregates entries by review status.
type ReviewStatistics struct {
	Total          int                  `json:"total"`
	ByStatus       map[ReviewStatus]int `json:"by_status"`
	RequireReview  int                  `json:"requires_review"`
	AwaitingReview int                  `json:"awaiting_review"`
}

// Service is the audit log. Safe for concurrent use.
type Service struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates the audit log over store.
func NewService(store Store, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Record creates a pending entry.
func (s *Service) Record(ctx context.Context, in RecordInput) (Entry, error) {
	e := Entry{
		ID:             s.newID(),
		ActorID:        in.ActorID,
		ProjectID:      in.ProjectID,
		OperationType:  in.OperationType,
		ContentType:    in.ContentType,
		RiskLevel:      in.RiskLevel,
		RuleTypes:      append([]string(nil), in.RuleTypes...),
		Preview:        in.Preview,
		OverrideReason: in.OverrideReason,
		FileType:       in.FileType,
		FileSize:       in.FileSize,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		CreatedAt:      s.now().UTC(),
		ReviewStatus:   StatusPending,
		RequiresReview: in.RequiresReview,
	}
	if e.RuleTypes == nil {
		e.RuleTypes = []string{}
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if err := s.store.Create(ctx, e); err != nil {
		s.logger.Error("failed to record audit entry",
			"operation_type", e.OperationType,
			"risk_level", e.RiskLevel,
			"error", err,
		)
		return Entry{}, err
	}
	s.logger.Info("audit entry recorded",
		"id", e.ID,
		"actor", e.ActorID,
		"project", e.ProjectID,
		"operation_type", e.OperationType,
		"risk_level", e.RiskLevel,
		"requires_review", e.RequiresReview,
	)
	return e, nil
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	return s.store.Get(ctx, id)
}

// Delete removes one entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("audit entry deleted", "id", id)
	return nil
}

// =============================================================================
// Review state machine
// =============================================================================

// Approve moves a pending entry to approved. decision defaults to allow.
func (s *Service) Approve(ctx context.Context, id, reviewer, comment string, decision ReviewDecision) (Entry, error) {
	if decision == "" {
		decision = DecisionAllow
	}
	return s.transition(ctx, id, StatusApproved, reviewer, comment, decision)
}

// Reject moves a pending entry to rejected. decision defaults to block.
func (s *Service) Reject(ctx context.Context, id, reviewer, comment string, decision ReviewDecision) (Entry, error) {
	if decision == "" {
		decision = DecisionBlock
	}
	return s.transition(ctx, id, StatusRejected, reviewer, comment, decision)
}

func (s *Service) transition(ctx context.Context, id string, to ReviewStatus, reviewer, comment string, decision ReviewDecision) (Entry, error) {
	if reviewer == "" {
		return Entry{}, fmt.Errorf("%w: reviewer is required", ErrInvalidEntry)
	}
	switch decision {
	case DecisionAllow, DecisionBlock, DecisionWarn:
	default:
		return Entry{}, fmt.Errorf("%w: unknown review decision %q", ErrInvalidEntry, decision)
	}

	now := s.now()
	e, err := s.store.Update(ctx, id, func(e *Entry) error {
		return e.review(to, reviewer, comment, decision, now)
	})
	if err != nil {
		if errors.Is(err, ErrReviewPrecondition) {
			s.logger.Warn("review rejected by precondition", "id", id, "reviewer", reviewer, "to", to)
		}
		return Entry{}, err
	}
	s.logger.Info("audit entry reviewed", "id", id, "reviewer", reviewer, "status", to, "decision", decision)
	return e, nil
}

// MarkForReview flags an entry for review and resets it to pending.
func (s *Service) MarkForReview(ctx context.Context, id string) (Entry, error) {
	e, err := s.store.Update(ctx, id, func(e *Entry) error {
		e.markForReview()
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.logger.Info("audit entry marked for review", "id", id)
	return e, nil
}

// BulkApprove approves every id independently.
func (s *Service) BulkApprove(ctx context.Context, ids []string, reviewer, comment string, decision ReviewDecision) BulkResult {
	return s.bulk(ctx, ids, func(id string) error {
		_, err := s.Approve(ctx, id, reviewer, comment, decision)
		return err
	})
}

// BulkReject rejects every id independently.
func (s *Service) BulkReject(ctx context.Context, ids []string, reviewer, comment string, decision ReviewDecision) BulkResult {
	return s.bulk(ctx, ids, func(id string) error {
		_, err := s.Reject(ctx, id, reviewer, comment, decision)
		return err
	})
}

func (s *Service) bulk(ctx context.Context, ids []string, apply func(id string) error) BulkResult {
	res := BulkResult{Failures: []BulkFailure{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, BulkFailure{ID: id, Error: err.Error()})
			continue
		}
		err := apply(id)
		if err == nil {
			res.Succeeded++
			continue
		}
		res.Failures = append(res.Failures, BulkFailure{
			ID:      id,
			Error:   err.Error(),
			Skipped: errors.Is(err, ErrReviewPrecondition),
		})
	}
	s.logger.Info("bulk review finished", "requested", len(ids), "succeeded", res.Succeeded, "failed", len(res.Failures))
	return res
}

// =============================================================================
// Queries
// =============================================================================

// Query returns matching entries, newest first.
func (s *Service) Query(ctx context.Context, f Filter) (Page, error) {
	return s.store.Query(ctx, f)
}

func (s *Service) all(ctx context.Context, f Filter) ([]Entry, error) {
	f.Offset, f.Limit = 0, 0
	page, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return page.Entries, nil
}

// Statistics aggregates entries matching f (pagination ignored).
func (s *Service) Statistics(ctx context.Context, f Filter) (Statistics, error) {
	entries, err := s.all(ctx, f)
	if err != nil {
		return Statistics{}, err
	}
	return ComputeStatistics(entries), nil
}

// ReviewStatistics aggregates review state of entries matching f.
func (s *Service) ReviewStatistics(ctx context.Context, f Filter) (ReviewStatistics, error) {
	entries, err := s.all(ctx, f)
	if err != nil {
		return ReviewStatistics{}, err
	}
	return ComputeReviewStatistics(entries), nil
}

// ComputeStatistics aggregates entries.
func ComputeStatistics(entries []Entry) Statistics {
	st := Statistics{
		Total:           len(entries),
		ByRiskLevel:     make(map[pe.RiskLevel]int, len(pe.RiskLevels)),
		ByOperationType: make(map[OperationType]int, len(OperationTypes)),
	}
	for _, l := range pe.RiskLevels {
		st.ByRiskLevel[l] = 0
	}
	for _, op := range OperationTypes {
		st.ByOperationType[op] = 0
	}
	for i := range entries {
		e := &entries[i]
		st.ByRiskLevel[e.RiskLevel]++
		st.ByOperationType[e.OperationType]++
	}
	st.Blocked = st.ByOperationType[OpBlockedSubmission]
	st.Warnings = st.ByOperationType[OpWarning]
	st.Overrides = st.ByOperationType[OpOverride]
	return st
}

// ComputeReviewStatistics aggregates review state.
func ComputeReviewStatistics(entries []Entry) ReviewStatistics {
	st := ReviewStatistics{
		Total:    len(entries),
		ByStatus: make(map[ReviewStatus]int, len(ReviewStatuses)),
	}
	for _, s := range ReviewStatuses {
		st.ByStatus[s] = 0
	}
	for i := range entries {
		e := &entries[i]
		st.ByStatus[e.ReviewStatus]++
		if e.RequiresReview {
			st.RequireReview++
		}
		if e.CanBeReviewed() {
			st.AwaitingReview++
		}
	}
	return st
}
