// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the DataGuard API.
//
// Every handler is a factory taking the shared Deps and returning a
// gin.HandlerFunc. Errors go through respondError, which classifies them
// with guard.Classify, maps the category to a status code and counts them.
package handlers

import (
	"net/http"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/api/middleware"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/AleutianAI/DataGuard/services/observability"
	"github.com/gin-gonic/gin"
)

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Engine *guard.Engine
	// Metrics may be nil.
	Metrics *observability.Metrics
	Logger  *logging.Logger
}

func (d Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.Discard()
	}
	return d.Logger
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     string              `json:"error"`
	Category  guard.ErrorCategory `json:"category"`
	Retryable bool                `json:"retryable"`
}

func respondError(c *gin.Context, d Deps, endpoint string, err error) {
	cls := guard.Classify(err)
	status := statusFor(cls.Category)
	if d.Metrics != nil {
		d.Metrics.RecordError(endpoint, string(cls.Category))
	}
	if status >= http.StatusInternalServerError {
		d.logger().Error("request failed", "endpoint", endpoint, "category", cls.Category, "error", err)
	} else {
		d.logger().Debug("request rejected", "endpoint", endpoint, "category", cls.Category, "error", err)
	}
	c.JSON(status, errorResponse{
		Error:     cls.Message,
		Category:  cls.Category,
		Retryable: cls.Category.IsRetryable(),
	})
}

func badRequest(c *gin.Context, d Deps, endpoint string, err error) {
	if d.Metrics != nil {
		d.Metrics.RecordError(endpoint, string(guard.CategoryValidation))
	}
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:    "invalid request: " + err.Error(),
		Category: guard.CategoryValidation,
	})
}

func statusFor(cat guard.ErrorCategory) int {
	switch cat {
	case guard.CategorySecurity:
		return http.StatusForbidden
	case guard.CategoryTimeout:
		return http.StatusGatewayTimeout
	case guard.CategoryValidation:
		return http.StatusBadRequest
	case guard.CategoryNotFound:
		return http.StatusNotFound
	case guard.CategoryDatabase:
		return http.StatusServiceUnavailable
	case guard.CategoryFileSize:
		return http.StatusRequestEntityTooLarge
	case guard.CategoryFileFormat:
		return http.StatusUnsupportedMediaType
	case guard.CategoryFileCorrupted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// actorOf returns the request actor set by the actor middleware.
func actorOf(c *gin.Context) extensions.Actor {
	actor, _ := middleware.GetActor(c)
	return actor
}
