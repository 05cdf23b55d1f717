// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
)

type entryModel struct {
	ID             string     `gorm:"column:id;primaryKey"`
	ActorID        string     `gorm:"column:actor_id"`
	ProjectID      string     `gorm:"column:project_id"`
	OperationType  string     `gorm:"column:operation_type"`
	ContentType    string     `gorm:"column:content_type"`
	RiskLevel      string     `gorm:"column:risk_level"`
	RuleTypes      string     `gorm:"column:rule_types"`
	Preview        string     `gorm:"column:preview"`
	OverrideReason string     `gorm:"column:override_reason"`
	FileType       string     `gorm:"column:file_type"`
	FileSize       int64      `gorm:"column:file_size"`
	IPAddress      *string    `gorm:"column:ip_address"`
	UserAgent      string     `gorm:"column:user_agent"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	ReviewStatus   string     `gorm:"column:review_status"`
	RequiresReview bool       `gorm:"column:requires_review"`
	ReviewerID     *string    `gorm:"column:reviewer_id"`
	ReviewedAt     *time.Time `gorm:"column:reviewed_at"`
	ReviewComment  string     `gorm:"column:review_comment"`
	ReviewDecision string     `gorm:"column:review_decision"`
}

func (entryModel) TableName() string { return "audit_entries" }

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toModel(e audit.Entry) (entryModel, error) {
	rules := e.RuleTypes
	if rules == nil {
		rules = []string{}
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return entryModel{}, fmt.Errorf("encode rule types: %w", err)
	}
	return entryModel{
		ID:             e.ID,
		ActorID:        e.ActorID,
		ProjectID:      e.ProjectID,
		OperationType:  string(e.OperationType),
		ContentType:    string(e.ContentType),
		RiskLevel:      string(e.RiskLevel),
		RuleTypes:      string(raw),
		Preview:        e.Preview,
		OverrideReason: e.OverrideReason,
		FileType:       e.FileType,
		FileSize:       e.FileSize,
		IPAddress:      nullableString(e.IPAddress),
		UserAgent:      e.UserAgent,
		CreatedAt:      e.CreatedAt.UTC(),
		ReviewStatus:   string(e.ReviewStatus),
		RequiresReview: e.RequiresReview,
		ReviewerID:     nullableString(e.ReviewerID),
		ReviewedAt:     e.ReviewedAt,
		ReviewComment:  e.ReviewComment,
		ReviewDecision: string(e.ReviewDecision),
	}, nil
}

func toEntry(row entryModel) (audit.Entry, error) {
	rules := []string{}
	if row.RuleTypes != "" {
		if err := json.Unmarshal([]byte(row.RuleTypes), &rules); err != nil {
			return audit.Entry{}, fmt.Errorf("decode rule types of %s: %w", row.ID, err)
		}
	}
	var reviewedAt *time.Time
	if row.ReviewedAt != nil {
		t := row.ReviewedAt.UTC()
		reviewedAt = &t
	}
	return audit.Entry{
		ID:             row.ID,
		ActorID:        row.ActorID,
		ProjectID:      row.ProjectID,
		OperationType:  audit.OperationType(row.OperationType),
		ContentType:    audit.ContentType(row.ContentType),
		RiskLevel:      pe.RiskLevel(row.RiskLevel),
		RuleTypes:      rules,
		Preview:        row.Preview,
		OverrideReason: row.OverrideReason,
		FileType:       row.FileType,
		FileSize:       row.FileSize,
		IPAddress:      derefString(row.IPAddress),
		UserAgent:      row.UserAgent,
		CreatedAt:      row.CreatedAt.UTC(),
		ReviewStatus:   audit.ReviewStatus(row.ReviewStatus),
		RequiresReview: row.RequiresReview,
		ReviewerID:     derefString(row.ReviewerID),
		ReviewedAt:     reviewedAt,
		ReviewComment:  row.ReviewComment,
		ReviewDecision: audit.ReviewDecision(row.ReviewDecision),
	}, nil
}
