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

	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/gin-gonic/gin"
)

// ReviewRequest is the body of the approve and reject endpoints.
type ReviewRequest struct {
	Comment  string `json:"comment"`
	Decision string `json:"decision" binding:"omitempty,oneof=allow block warn"`
}

// BulkReviewRequest is the body of the bulk review endpoints.
type BulkReviewRequest struct {
	IDs      []string `json:"ids" binding:"required,min=1,dive,required"`
	Comment  string   `json:"comment"`
	Decision string   `json:"decision" binding:"omitempty,oneof=allow block warn"`
}

// HandleListLogs lists audit entries matching the query filter.
func HandleListLogs(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f audit.Filter
		if err := c.ShouldBindQuery(&f); err != nil {
			badRequest(c, d, "logs", err)
			return
		}
		page, err := d.Engine.Query(c.Request.Context(), f)
		if err != nil {
			respondError(c, d, "logs", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// HandleGetLog returns one audit entry.
func HandleGetLog(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := d.Engine.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, d, "logs", err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// HandleStatistics aggregates the entries matching the query filter.
func HandleStatistics(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f audit.Filter
		if err := c.ShouldBindQuery(&f); err != nil {
			badRequest(c, d, "stats", err)
			return
		}
		stats, err := d.Engine.Statistics(c.Request.Context(), f)
		if err != nil {
			respondError(c, d, "stats", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// HandleReviewStatistics aggregates review state.
func HandleReviewStatistics(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f audit.Filter
		if err := c.ShouldBindQuery(&f); err != nil {
			badRequest(c, d, "review_stats", err)
			return
		}
		stats, err := d.Engine.ReviewStatistics(c.Request.Context(), f)
		if err != nil {
			respondError(c, d, "review_stats", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// HandleApprove approves a pending entry as the request actor.
func HandleApprove(d Deps) gin.HandlerFunc {
	return handleReview(d, "approve", audit.StatusApproved)
}

// HandleReject rejects a pending entry as the request actor.
func HandleReject(d Deps) gin.HandlerFunc {
	return handleReview(d, "reject", audit.StatusRejected)
}

func handleReview(d Deps, endpoint string, to audit.ReviewStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, d, endpoint, err)
			return
		}
		ctx := c.Request.Context()
		id, reviewer := c.Param("id"), actorOf(c).ID
		review := d.Engine.Approve
		if to == audit.StatusRejected {
			review = d.Engine.Reject
		}
		entry, err := review(ctx, id, reviewer, req.Comment, audit.ReviewDecision(req.Decision))
		if err != nil {
			respondError(c, d, endpoint, err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.RecordReview(to, 1)
		}
		c.JSON(http.StatusOK, entry)
	}
}

// HandleMarkForReview flags an entry and resets it to pending.
func HandleMarkForReview(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := d.Engine.MarkForReview(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, d, "mark", err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.RecordReview(audit.StatusPending, 1)
		}
		c.JSON(http.StatusOK, entry)
	}
}

// HandleBulkApprove approves every listed id independently.
func HandleBulkApprove(d Deps) gin.HandlerFunc {
	return handleBulk(d, "bulk_approve", audit.StatusApproved)
}

// HandleBulkReject rejects every listed id independently.
func HandleBulkReject(d Deps) gin.HandlerFunc {
	return handleBulk(d, "bulk_reject", audit.StatusRejected)
}

func handleBulk(d Deps, endpoint string, to audit.ReviewStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, d, endpoint, err)
			return
		}
		bulk := d.Engine.BulkApprove
		if to == audit.StatusRejected {
			bulk = d.Engine.BulkReject
		}
		res := bulk(c.Request.Context(), req.IDs, actorOf(c).ID, req.Comment, audit.ReviewDecision(req.Decision))
		if d.Metrics != nil {
			d.Metrics.RecordReview(to, res.Succeeded)
		}
		c.JSON(http.StatusOK, res)
	}
}
