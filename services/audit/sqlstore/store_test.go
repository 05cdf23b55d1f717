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
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/audit/audittest"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRunDB builds statements without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 port=1 user=dataguard dbname=dataguard sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db
}

func TestModelConversion_ReviewedEntry(t *testing.T) {
	e := audittest.NewEntry("m1", audittest.Base, pe.RiskHigh, audit.OpBlockedSubmission)
	e.RuleTypes = []string{"credit_card", "employee_id"}
	e.IPAddress = "10.1.2.3"
	e.RequiresReview = true
	reviewed := audittest.Base.Add(time.Hour)
	e.ReviewStatus = audit.StatusRejected
	e.ReviewerID = "bob"
	e.ReviewedAt = &reviewed
	e.ReviewDecision = audit.DecisionBlock

	rec, err := toModel(e)
	require.NoError(t, err)
	assert.Equal(t, `["credit_card","employee_id"]`, rec.RuleTypes)
	require.NotNil(t, rec.IPAddress)
	assert.Equal(t, "10.1.2.3", *rec.IPAddress)

	back, err := toEntry(rec)
	require.NoError(t, err)
	assert.Equal(t, e, back)
}

func TestModelConversion_PendingEntryUsesNulls(t *testing.T) {
	e := audittest.NewEntry("m2", audittest.Base, pe.RiskLow, audit.OpDetection)
	e.RuleTypes = nil

	rec, err := toModel(e)
	require.NoError(t, err)
	assert.Nil(t, rec.IPAddress)
	assert.Nil(t, rec.ReviewerID)
	assert.Nil(t, rec.ReviewedAt)
	assert.Equal(t, "[]", rec.RuleTypes)

	back, err := toEntry(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{}, back.RuleTypes)
	assert.NoError(t, back.Validate())
}

func TestToEntry_RejectsCorruptRuleTypes(t *testing.T) {
	_, err := toEntry(entryModel{ID: "bad", RuleTypes: "{"})
	assert.Error(t, err)
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_audit_entries.sql", names[0])
}

func TestApplyFilter_BuildsPredicates(t *testing.T) {
	db := dryRunDB(t)
	review := true
	f := audit.Filter{
		ProjectID:      "apollo",
		RiskLevel:      pe.RiskHigh,
		RequiresReview: &review,
		From:           audittest.Base,
		Search:         "50%_off",
	}

	stmt := applyFilter(db.Model(&entryModel{}), f).Find(&[]entryModel{}).Statement
	sql := stmt.SQL.String()
	assert.Contains(t, sql, "audit_entries")
	assert.Contains(t, sql, "project_id = ")
	assert.Contains(t, sql, "risk_level = ")
	assert.Contains(t, sql, "requires_review = ")
	assert.Contains(t, sql, "created_at >= ")
	assert.Contains(t, sql, "preview ILIKE")
	assert.NotContains(t, sql, "created_at < ")
	assert.Contains(t, stmt.Vars, `%50\%\_off%`)
}

func TestApplyPurge_KeepsPendingReview(t *testing.T) {
	db := dryRunDB(t)
	p := audit.Purge{Before: audittest.Base, RiskLevel: pe.RiskLow, KeepPendingReview: true}

	tx := applyPurge(db, p).Delete(&entryModel{})
	require.NoError(t, tx.Error)
	sql := tx.Statement.SQL.String()
	assert.Contains(t, sql, "DELETE FROM")
	assert.Contains(t, sql, "created_at < ")
	assert.Contains(t, sql, "risk_level = ")
	assert.Contains(t, sql, "NOT (requires_review AND review_status = ")
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig(), nil)
	assert.Error(t, err)
}
