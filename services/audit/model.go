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
	"fmt"
	"slices"
	"strings"
	"time"

	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/go-playground/validator/v10"
)

// OperationType is what happened when the entry was recorded.
type OperationType string

const (
	OpDetection         OperationType = "detection"
	OpBlockedSubmission OperationType = "blocked_submission"
	OpWarning           OperationType = "warning"
	OpOverride          OperationType = "override"
	OpAttachmentScan    OperationType = "attachment_scan"
	OpFileUpload        OperationType = "file_upload"
)

// OperationTypes lists every operation type.
var OperationTypes = []OperationType{
	OpDetection, OpBlockedSubmission, OpWarning, OpOverride, OpAttachmentScan, OpFileUpload,
}

// ContentType tags where the content came from.
type ContentType string

const (
	ContentIssue      ContentType = "issue"
	ContentWiki       ContentType = "wiki"
	ContentMessage    ContentType = "message"
	ContentAttachment ContentType = "attachment"
	ContentProject    ContentType = "project"
)

// ReviewStatus is the review state of an entry.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
)

// ReviewStatuses lists every review status.
var ReviewStatuses = []ReviewStatus{StatusPending, StatusApproved, StatusRejected}

// ReviewDecision is the reviewer's verdict.
type ReviewDecision string

const (
	DecisionAllow ReviewDecision = "allow"
	DecisionBlock ReviewDecision = "block"
	DecisionWarn  ReviewDecision = "warn"
)

// Entry is one durable audit record.
//
// Reviewer, ReviewedAt, ReviewComment and ReviewDecision are empty while
// ReviewStatus is pending.
type Entry struct {
	ID             string        `json:"id" validate:"required"`
	ActorID        string        `json:"actor_id" validate:"required"`
	ProjectID      string        `json:"project_id,omitempty"`
	OperationType  OperationType `json:"operation_type" validate:"required,oneof=detection blocked_submission warning override attachment_scan file_upload"`
	ContentType    ContentType   `json:"content_type" validate:"required,oneof=issue wiki message attachment project"`
	RiskLevel      pe.RiskLevel  `json:"risk_level" validate:"required,oneof=high medium low"`
	RuleTypes      []string      `json:"rule_types"`
	Preview        string        `json:"preview"`
	// OverrideReason is the actor's justification when a block was overridden.
	OverrideReason string        `json:"override_reason,omitempty"`
	FileType       string        `json:"file_type,omitempty"`
	FileSize       int64         `json:"file_size,omitempty" validate:"gte=0"`
	IPAddress      string        `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent      string        `json:"user_agent,omitempty"`
	CreatedAt      time.Time     `json:"created_at" validate:"required"`

	ReviewStatus   ReviewStatus   `json:"review_status" validate:"required,oneof=pending approved rejected"`
	RequiresReview bool           `json:"requires_review"`
	ReviewerID     string         `json:"reviewer_id,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	ReviewComment  string         `json:"review_comment,omitempty"`
	ReviewDecision ReviewDecision `json:"review_decision,omitempty" validate:"omitempty,oneof=allow block warn"`
}

var validate = validator.New()

// Validate checks the field enumerations and the pending invariant.
func (e *Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.ReviewStatus == StatusPending &&
		(e.ReviewerID != "" || e.ReviewedAt != nil || e.ReviewComment != "" || e.ReviewDecision != "") {
		return fmt.Errorf("%w: review fields set on a pending entry", ErrInvalidEntry)
	}
	return nil
}

// CanBeReviewed reports whether approve or reject is legal.
func (e *Entry) CanBeReviewed() bool {
	return e.ReviewStatus == StatusPending && e.RequiresReview
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	e.RuleTypes = slices.Clone(e.RuleTypes)
	if e.ReviewedAt != nil {
		t := *e.ReviewedAt
		e.ReviewedAt = &t
	}
	return e
}

func (e *Entry) review(status ReviewStatus, reviewer, comment string, decision ReviewDecision, now time.Time) error {
	if !e.CanBeReviewed() {
		return fmt.Errorf("%w: entry %s is %s (requires_review=%t)",
			ErrReviewPrecondition, e.ID, e.ReviewStatus, e.RequiresReview)
	}
	at := now.UTC()
	e.ReviewStatus = status
	e.ReviewerID = reviewer
	e.ReviewedAt = &at
	e.ReviewComment = comment
	e.ReviewDecision = decision
	return nil
}

func (e *Entry) markForReview() {
	e.RequiresReview = true
	e.ReviewStatus = StatusPending
	e.ReviewerID = ""
	e.ReviewedAt = nil
	e.ReviewComment = ""
	e.ReviewDecision = ""
}

// searchText is the haystack for keyword search.
func (e *Entry) searchText() string {
	return strings.ToLower(e.Preview + "\n" + strings.Join(e.RuleTypes, " ") + "\n" + e.ReviewComment)
}
