// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RuleToggleRequest is the body of PUT /v1/rules/:name.
type RuleToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// HandleCleanup runs one retention pass. Per-tier failures are reported in
// the body with status 207.
func HandleCleanup(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := d.Engine.Cleanup(c.Request.Context())
		if d.Metrics != nil {
			d.Metrics.RecordCleanup(report)
		}
		status := http.StatusOK
		if report.HasErrors() {
			status = http.StatusMultiStatus
		}
		c.JSON(status, gin.H{
			"deleted_by_tier": report.DeletedByTier,
			"total_deleted":   report.Total(),
			"errors":          report.Errors,
			"start_time":      report.StartTime,
			"end_time":        report.EndTime,
			"duration_ms":     report.Duration().Milliseconds(),
		})
	}
}

// HandleRetentionReport summarizes the audit log for retention planning.
func HandleRetentionReport(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := d.Engine.Report(c.Request.Context())
		if err != nil {
			respondError(c, d, "retention_report", err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// HandleExport returns the newest entries for archival.
func HandleExport(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		export, err := d.Engine.Export(c.Request.Context())
		if err != nil {
			respondError(c, d, "export", err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="dataguard-export.json"`)
		c.JSON(http.StatusOK, export)
	}
}

// HandleListRules returns the rule catalog.
func HandleListRules(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := d.Engine.Rules()
		if err != nil {
			respondError(c, d, "rules", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

// HandleToggleRule enables or disables one rule at runtime.
func HandleToggleRule(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RuleToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, d, "rules", err)
			return
		}
		name := c.Param("name")
		if err := d.Engine.SetRuleEnabled(c.Request.Context(), name, *req.Enabled); err != nil {
			respondError(c, d, "rules", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "enabled": *req.Enabled})
	}
}

// HandleReloadRules re-reads the operator rule file.
func HandleReloadRules(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.Engine.Reload(c.Request.Context()); err != nil {
			respondError(c, d, "rules_reload", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
	}
}

// HandleCacheHealth reports the result cache.
func HandleCacheHealth(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := d.Engine.CacheHealth(c.Request.Context())
		status := http.StatusOK
		if !health.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	}
}

// HandleInvalidateCache drops cached results under the "prefix" query
// parameter, or everything when it is absent.
func HandleInvalidateCache(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := d.Engine.InvalidateCache(c.Request.Context(), c.Query("prefix"))
		if err != nil {
			respondError(c, d, "cache", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": n})
	}
}
