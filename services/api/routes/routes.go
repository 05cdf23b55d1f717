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
	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/services/api/handlers"
	"github.com/AleutianAI/DataGuard/services/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every endpoint. gatherer serves /metrics; a nil
// gatherer leaves /metrics unregistered.
func SetupRoutes(router *gin.Engine, deps handlers.Deps, authorizer extensions.Authorizer, gatherer prometheus.Gatherer) {
	router.GET("/health", handlers.HealthCheck)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.ActorMiddleware())
	{
		v1.POST("/scan", handlers.HandleScan(deps))
		v1.POST("/check", handlers.HandleCheck(deps))
		v1.POST("/attachments", handlers.HandleAttachments(deps))

		admin := v1.Group("")
		admin.Use(middleware.RequireAdmin(authorizer))

		// Audit log and review routes
		logs := admin.Group("/logs")
		{
			logs.GET("", handlers.HandleListLogs(deps))
			logs.GET("/:id", handlers.HandleGetLog(deps))
			logs.POST("/:id/approve", handlers.HandleApprove(deps))
			logs.POST("/:id/reject", handlers.HandleReject(deps))
			logs.POST("/:id/mark", handlers.HandleMarkForReview(deps))
		}
		admin.GET("/stats", handlers.HandleStatistics(deps))
		review := admin.Group("/review")
		{
			review.GET("/stats", handlers.HandleReviewStatistics(deps))
			review.POST("/bulk-approve", handlers.HandleBulkApprove(deps))
			review.POST("/bulk-reject", handlers.HandleBulkReject(deps))
		}

		// Retention routes
		ret := admin.Group("/retention")
		{
			ret.POST("/cleanup", handlers.HandleCleanup(deps))
			ret.GET("/report", handlers.HandleRetentionReport(deps))
			ret.GET("/export", handlers.HandleExport(deps))
		}

		// Rule and cache administration routes
		rules := admin.Group("/rules")
		{
			rules.GET("", handlers.HandleListRules(deps))
			rules.PUT("/:name", handlers.HandleToggleRule(deps))
			rules.POST("/reload", handlers.HandleReloadRules(deps))
		}
		admin.GET("/cache/health", handlers.HandleCacheHealth(deps))
		admin.DELETE("/cache", handlers.HandleInvalidateCache(deps))
	}
}
