// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(authorizer extensions.Authorizer) (*gin.Engine, *extensions.Actor) {
	var seen extensions.Actor
	router := gin.New()
	router.Use(ActorMiddleware())
	router.GET("/open", func(c *gin.Context) {
		seen, _ = GetActor(c)
		c.Status(http.StatusNoContent)
	})
	router.GET("/admin", RequireAdmin(authorizer), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router, &seen
}

func TestActorMiddleware_MissingUser(t *testing.T) {
	router, _ := newRouter(extensions.NopAuthorizer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), HeaderUser)
}

func TestActorMiddleware_BuildsActor(t *testing.T) {
	router, seen := newRouter(extensions.NopAuthorizer{})

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(HeaderUser, " alice ")
	req.Header.Set(HeaderRoles, "reviewer, ,auditor")
	req.Header.Set("User-Agent", "tracker/2.1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "alice", seen.ID)
	assert.Equal(t, []string{"reviewer", "auditor"}, seen.Roles)
	assert.Equal(t, "tracker/2.1", seen.UserAgent)
	assert.NotEmpty(t, seen.IP)
}

func TestRequireAdmin(t *testing.T) {
	router, _ := newRouter(extensions.NewStaticAuthorizer([]string{"root"}, nil))

	tests := []struct {
		name  string
		user  string
		roles string
		want  int
	}{
		{"listed admin", "root", "", http.StatusNoContent},
		{"admin role", "carol", "admin", http.StatusNoContent},
		{"regular user", "bob", "reviewer", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set(HeaderUser, tt.user)
			if tt.roles != "" {
				req.Header.Set(HeaderRoles, tt.roles)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGetActor_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := GetActor(c)
	assert.False(t, ok)
}
