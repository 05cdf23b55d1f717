// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the DataGuard API.
//
// DataGuard sits behind the host application (issue tracker, wiki, chat),
// which has already authenticated the user. The host forwards the identity
// in headers and the actor middleware turns it into an extensions.Actor:
//
//	Request
//	   │
//	   ▼
//	ActorMiddleware
//	   │
//	   ├─► X-DataGuard-User, X-DataGuard-Roles
//	   │
//	   ├─► client IP and User-Agent
//	   │
//	   └─► Store Actor in context
//	           │
//	           ▼
//	       RequireAdmin (review, retention, rules, cache routes)
//	           │
//	           ▼
//	       Handler (retrieves via GetActor)
package middleware

import (
	"net/http"
	"strings"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// Identity headers set by the host application.
const (
	HeaderUser  = "X-DataGuard-User"
	HeaderRoles = "X-DataGuard-Roles"
)

// actorKey is the gin context key of the request actor.
const actorKey = "dataguard_actor"

// SetActor stores the actor in the Gin context.
func SetActor(c *gin.Context, actor extensions.Actor) {
	c.Set(actorKey, actor)
}

// GetActor returns the request actor. ok is false when ActorMiddleware did
// not run.
func GetActor(c *gin.Context) (extensions.Actor, bool) {
	if v, exists := c.Get(actorKey); exists {
		if actor, ok := v.(extensions.Actor); ok {
			return actor, true
		}
	}
	return extensions.Actor{}, false
}

// ActorMiddleware builds the actor from the identity headers. Requests
// without a user header are rejected with 401.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderUser))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + HeaderUser + " header",
			})
			return
		}
		SetActor(c, extensions.Actor{
			ID:        id,
			Roles:     splitRoles(c.GetHeader(HeaderRoles)),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Next()
	}
}

// RequireAdmin rejects actors the authorizer does not consider admins.
// It must run after ActorMiddleware.
func RequireAdmin(authorizer extensions.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !authorizer.IsAdmin(c.Request.Context(), actor) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": extensions.ErrUnauthorized.Error(),
			})
			return
		}
		c.Next()
	}
}

func splitRoles(header string) []string {
	if header == "" {
		return nil
	}
	var roles []string
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
