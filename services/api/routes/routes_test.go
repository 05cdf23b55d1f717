// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/api/handlers"
	"github.com/AleutianAI/DataGuard/services/api/middleware"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/AleutianAI/DataGuard/services/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	engine *guard.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	authorizer := extensions.NewStaticAuthorizer([]string{"root"}, map[string][]string{"apollo": {"bob"}})

	ext := extensions.DefaultOptions()
	ext.Authorizer = authorizer
	engine, err := guard.New(guard.DefaultConfig(), audit.NewMemoryStore(),
		guard.WithLogger(logging.Discard()),
		guard.WithExtensions(ext),
		guard.WithScanObserver(metrics),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	router := gin.New()
	SetupRoutes(router, handlers.Deps{Engine: engine, Metrics: metrics, Logger: logging.Discard()}, authorizer, reg)
	return &testServer{router: router, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUser, user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScan(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/scan", "alice", gin.H{"content": "ID A123456789"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "detected", body["status"])
	assert.Equal(t, "high", body["risk_level"])

	page, err := s.engine.Query(t.Context(), audit.Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCheck(t *testing.T) {
	s := newTestServer(t)

	t.Run("national id is blocked", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "ID A123456789", "project": "apollo"})
		require.Equal(t, http.StatusForbidden, w.Code)
		resp := decode[handlers.CheckResponse](t, w)
		assert.Equal(t, "block", string(resp.Action))
		assert.Equal(t, []string{"id_card"}, resp.RuleTypes)
		assert.NotEmpty(t, resp.EntryID)
		assert.True(t, resp.RequiresReview)
		assert.NotEmpty(t, resp.Error)
		assert.NotContains(t, w.Body.String(), "A123456789")
	})

	t.Run("mobile number warns", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "call 0912345678"})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handlers.CheckResponse](t, w)
		assert.Equal(t, "warn", string(resp.Action))
		assert.NotEmpty(t, resp.Message)
	})

	t.Run("clean content records nothing", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "hello world"})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handlers.CheckResponse](t, w)
		assert.Equal(t, "allow", string(resp.Action))
		assert.Empty(t, resp.EntryID)
	})

	t.Run("override grant allows", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/check", "bob", gin.H{
			"content": "ID A123456789", "project": "apollo", "override_reason": "customer asked",
		})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handlers.CheckResponse](t, w)
		assert.Equal(t, "override", resp.Reason)

		entry, err := s.engine.Get(t.Context(), resp.EntryID)
		require.NoError(t, err)
		assert.Equal(t, audit.OpOverride, entry.OperationType)
		assert.Equal(t, "customer asked", entry.OverrideReason)
	})

	t.Run("missing user", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/check", "", gin.H{"content": "hello"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content_type": "tweet"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation", decode[map[string]any](t, w)["category"])
	})
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/v1/logs", "/v1/stats", "/v1/rules", "/v1/retention/report", "/v1/cache/health"} {
		w := s.do(t, http.MethodGet, path, "alice", nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestReviewFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "ID A123456789"})
	require.Equal(t, http.StatusForbidden, w.Code)
	id := decode[handlers.CheckResponse](t, w).EntryID

	w = s.do(t, http.MethodGet, "/v1/logs?review_status=pending", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[audit.Page](t, w)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, id, page.Entries[0].ID)

	w = s.do(t, http.MethodPost, "/v1/logs/"+id+"/approve", "root", gin.H{"comment": "false positive"})
	require.Equal(t, http.StatusOK, w.Code)
	entry := decode[audit.Entry](t, w)
	assert.Equal(t, audit.StatusApproved, entry.ReviewStatus)
	assert.Equal(t, "root", entry.ReviewerID)

	w = s.do(t, http.MethodPost, "/v1/logs/"+id+"/reject", "root", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/logs/"+id+"/mark", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, audit.StatusPending, decode[audit.Entry](t, w).ReviewStatus)

	w = s.do(t, http.MethodPost, "/v1/logs/"+id+"/reject", "root", gin.H{"decision": "warn"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, audit.DecisionWarn, decode[audit.Entry](t, w).ReviewDecision)

	w = s.do(t, http.MethodPost, "/v1/logs/"+id+"/approve", "root", gin.H{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/logs/missing", "root", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkApprove(t *testing.T) {
	s := newTestServer(t)

	var ids []string
	for _, content := range []string{"ID A123456789", "ID B223456789"} {
		w := s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": content})
		require.Equal(t, http.StatusForbidden, w.Code)
		ids = append(ids, decode[handlers.CheckResponse](t, w).EntryID)
	}

	w := s.do(t, http.MethodPost, "/v1/review/bulk-approve", "root", gin.H{"ids": append(ids, "missing")})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[audit.BulkResult](t, w)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "missing", res.Failures[0].ID)

	w = s.do(t, http.MethodPost, "/v1/review/bulk-reject", "root", gin.H{"ids": ids})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[audit.BulkResult](t, w)
	assert.Zero(t, res.Succeeded)
	for _, f := range res.Failures {
		assert.True(t, f.Skipped)
	}

	w = s.do(t, http.MethodPost, "/v1/review/bulk-reject", "root", gin.H{"ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/review/stats", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[audit.ReviewStatistics](t, w)
	assert.Equal(t, 2, stats.ByStatus[audit.StatusApproved])
}

func TestStatistics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "ID A123456789"})
	s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "call 0912345678"})

	w := s.do(t, http.MethodGet, "/v1/stats", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[audit.Statistics](t, w)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 1, stats.Warnings)

	w = s.do(t, http.MethodGet, "/v1/stats?risk_level=medium", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[audit.Statistics](t, w).Total)
}

func TestRetention(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "ID A123456789"})

	w := s.do(t, http.MethodPost, "/v1/retention/cleanup", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["total_deleted"])

	w = s.do(t, http.MethodGet, "/v1/retention/report", "root", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/retention/export", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "dataguard-export.json")
}

func TestRulesAndCache(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/rules", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taiwan_mobile")

	w = s.do(t, http.MethodPut, "/v1/rules/taiwan_mobile", "root", gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "call 0912345678"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "allow", string(decode[handlers.CheckResponse](t, w).Action))

	w = s.do(t, http.MethodPut, "/v1/rules/passport", "root", gin.H{"enabled": false})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/v1/rules/email", "root", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/rules/reload", "root", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/cache/health", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", decode[map[string]any](t, w)["backend"])

	w = s.do(t, http.MethodDelete, "/v1/cache", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["invalidated"])
}

func TestAttachments(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range map[string]string{
		"notes.txt": "card 4111 1111 1111 1111",
		"tool.exe":  "MZ",
	} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("project", "apollo"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderUser, "alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Blocked bool                          `json:"blocked"`
		Files   []handlers.AttachmentResponse `json:"files"`
	}](t, w)
	assert.True(t, resp.Blocked)
	require.Len(t, resp.Files, 2)
	byName := map[string]handlers.AttachmentResponse{}
	for _, f := range resp.Files {
		byName[f.Filename] = f
	}
	assert.Equal(t, "block", string(byName["notes.txt"].Action))
	assert.NotEmpty(t, byName["notes.txt"].EntryID)
	assert.Empty(t, byName["tool.exe"].Action)
	assert.True(t, strings.Contains(byName["tool.exe"].Error, "not supported"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/check", "alice", gin.H{"content": "ID A123456789"})

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dataguard_scanner_scans_total")
	assert.Contains(t, w.Body.String(), "dataguard_policy_decisions_total")
	assert.Contains(t, w.Body.String(), "dataguard_audit_entries_total")
}
