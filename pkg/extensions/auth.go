// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrUnauthorized is returned when an actor may not perform an
// administrative action such as reviewing or purging audit entries.
//
// Example:
//
//	if !admin {
//	    return fmt.Errorf("review entry %s: %w", id, extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// Actor identifies who submitted content or who performs a review.
//
// Required fields (always populated):
//   - ID: Unique identifier for the user
//
// Optional fields (may be empty):
//   - Roles: Role memberships reported by the host system
//   - IP: Client network address
//   - UserAgent: Client identifier
type Actor struct {
	ID        string   `json:"id"`
	Roles     []string `json:"roles,omitempty"`
	IP        string   `json:"ip,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
}

// HasRole checks if the actor has a specific role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// Scope narrows a decision to a place in the host system.
//
// Both fields are optional. An empty Scope means "global".
type Scope struct {
	// Project is the host's project, space or channel identifier.
	Project string `json:"project,omitempty"`
	// ContentType tags where the content came from (issue, wiki, message,
	// attachment, project).
	ContentType string `json:"content_type,omitempty"`
}

// Authorizer decides who may bypass detection decisions.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Default Behavior
//
// NopAuthorizer grants nothing. Every detected result is then handled by
// the whitelist and tier strategy.
//
// # Host Implementation
//
// Hosts typically back this with their own permission model:
//
//	type ProjectPermissions struct{ db *sql.DB }
//
//	func (p *ProjectPermissions) HasOverride(ctx context.Context, a Actor, s Scope) bool {
//	    return p.can(ctx, a.ID, s.Project, "override_sensitive_data")
//	}
type Authorizer interface {
	// HasOverride reports whether actor may submit detected content in
	// scope without being blocked or warned. Administrators always may.
	HasOverride(ctx context.Context, actor Actor, scope Scope) bool

	// IsAdmin reports whether actor administers the whole installation.
	IsAdmin(ctx context.Context, actor Actor) bool
}

// NopAuthorizer grants no capabilities.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthorizer struct{}

// HasOverride always returns false.
func (NopAuthorizer) HasOverride(context.Context, Actor, Scope) bool { return false }

// IsAdmin always returns false.
func (NopAuthorizer) IsAdmin(context.Context, Actor) bool { return false }

// StaticAuthorizer answers from fixed lists: admin user ids, an "admin" role,
// and per-project override grants.
//
// Thread-safe: Grants may be added at runtime with Grant.
type StaticAuthorizer struct {
	mu     sync.RWMutex
	admins map[string]struct{}
	grants map[string]map[string]struct{}
}

// NewStaticAuthorizer creates an authorizer. grants maps a project to the
// user ids holding an override there.
func NewStaticAuthorizer(admins []string, grants map[string][]string) *StaticAuthorizer {
	a := &StaticAuthorizer{
		admins: make(map[string]struct{}, len(admins)),
		grants: make(map[string]map[string]struct{}, len(grants)),
	}
	for _, id := range admins {
		a.admins[id] = struct{}{}
	}
	for project, users := range grants {
		for _, u := range users {
			a.Grant(project, u)
		}
	}
	return a
}

// Grant gives userID an override in project.
func (a *StaticAuthorizer) Grant(project, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	users, ok := a.grants[project]
	if !ok {
		users = make(map[string]struct{})
		a.grants[project] = users
	}
	users[userID] = struct{}{}
}

func (a *StaticAuthorizer) IsAdmin(_ context.Context, actor Actor) bool {
	if actor.HasRole("admin") {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.admins[actor.ID]
	return ok
}

func (a *StaticAuthorizer) HasOverride(ctx context.Context, actor Actor, scope Scope) bool {
	if a.IsAdmin(ctx, actor) {
		return true
	}
	if scope.Project == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.grants[scope.Project][actor.ID]
	return ok
}

// Compile-time interface compliance checks.
var (
	_ Authorizer = NopAuthorizer{}
	_ Authorizer = (*StaticAuthorizer)(nil)
)
