// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/api/handlers"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/config"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/AleutianAI/DataGuard/services/retention"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func memoryConfig(t *testing.T) config.DataGuardConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Cache.Backend = "memory"
	return cfg
}

func TestReadContent_Argument(t *testing.T) {
	got, err := readContent([]string{"hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Backend = "cassandra"
	_, err := openStore(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestOpenSession_CheckIsRecorded(t *testing.T) {
	ctx := context.Background()
	sess, err := openSession(ctx, memoryConfig(t), logging.Discard(), extensions.ServiceOptions{})
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.engine.Check(ctx, guard.CheckInput{
		Content: "ID A123456789",
		Actor:   extensions.Actor{ID: "alice"},
	})
	require.NoError(t, err)
	assert.True(t, out.Blocked())
	require.NotNil(t, out.Entry)

	summary := checkSummary(out)
	assert.Equal(t, out.Entry.ID, summary.EntryID)
	assert.True(t, summary.RequiresReview)

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, summary))
	assert.NotContains(t, buf.String(), "A123456789", "matched values must not be printed")

	page, err := sess.engine.Query(ctx, audit.Filter{ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestOpenSession_CleanupIsJournaled(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Retention.JournalPath = filepath.Join(t.TempDir(), "retention.jsonl")

	sess, err := openSession(ctx, cfg, logging.Discard(), extensions.ServiceOptions{})
	require.NoError(t, err)
	report := sess.engine.Cleanup(ctx)
	assert.False(t, report.HasErrors())
	require.NoError(t, sess.Close())

	j, err := retention.OpenJournal(cfg.Retention.JournalPath)
	require.NoError(t, err)
	defer j.Close()
	ok, broken, err := j.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), broken)
}

func TestPrintScan(t *testing.T) {
	sess, err := openSession(context.Background(), memoryConfig(t), logging.Discard(), extensions.ServiceOptions{})
	require.NoError(t, err)
	defer sess.Close()

	t.Run("detected", func(t *testing.T) {
		var buf bytes.Buffer
		printScan(&buf, sess.engine.Scan(context.Background(), "ID A123456789"))
		assert.Contains(t, buf.String(), "Sensitive data found")
		assert.Contains(t, buf.String(), "A1234567**")
		assert.NotContains(t, buf.String(), "A123456789")
	})

	t.Run("clean", func(t *testing.T) {
		var buf bytes.Buffer
		printScan(&buf, sess.engine.Scan(context.Background(), "hello world"))
		assert.Contains(t, buf.String(), "No sensitive data found")
	})
}

func TestEntriesTable(t *testing.T) {
	out := entriesTable([]audit.Entry{{
		ID:             "entry-1",
		ActorID:        "alice",
		OperationType:  audit.OpBlockedSubmission,
		RiskLevel:      "high",
		RuleTypes:      []string{"taiwan_id"},
		ReviewStatus:   audit.StatusPending,
		RequiresReview: true,
		CreatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}})
	assert.Contains(t, out, "entry-1")
	assert.Contains(t, out, "blocked_submission")
	assert.Contains(t, out, "pending*")
}

func TestCountsTable_KeepsOrder(t *testing.T) {
	out := countsTable("TIER", map[string]int{"low": 3, "high": 1}, retention.Tiers)
	assert.Less(t, bytes.Index([]byte(out), []byte("high")), bytes.Index([]byte(out), []byte("low")))
	assert.Contains(t, out, "override")
}

func TestNewRouter(t *testing.T) {
	cfg := memoryConfig(t)
	sess, err := openSession(context.Background(), cfg, logging.Discard(), extensions.ServiceOptions{})
	require.NoError(t, err)
	defer sess.Close()

	router := newRouter(cfg, handlers.Deps{Engine: sess.engine, Logger: logging.Discard()}, cfg.Authorizer(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// /metrics is only mounted with a gatherer.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scan", bytes.NewBufferString(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
}
