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
	"errors"
	"io"
	"net/http"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/guard"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/gin-gonic/gin"
)

// ScanRequest is the body of POST /v1/scan.
type ScanRequest struct {
	Content string `json:"content" binding:"required"`
}

// CheckRequest is the body of POST /v1/check.
type CheckRequest struct {
	Content        string `json:"content" binding:"required"`
	Project        string `json:"project"`
	ContentType    string `json:"content_type" binding:"omitempty,oneof=issue wiki message attachment project"`
	OverrideReason string `json:"override_reason"`
}

// CheckResponse is the decision for one submission. Matched values are not
// echoed back; only the masked preview is.
type CheckResponse struct {
	Action         decision.Action `json:"action"`
	Reason         string          `json:"reason"`
	RiskLevel      pe.RiskLevel    `json:"risk_level"`
	Status         pe.ScanStatus   `json:"scan_status"`
	RuleTypes      []string        `json:"rule_types"`
	Preview        string          `json:"preview,omitempty"`
	Suggestions    []string        `json:"suggestions,omitempty"`
	Whitelist      string          `json:"whitelist,omitempty"`
	Message        string          `json:"message,omitempty"`
	EntryID        string          `json:"entry_id,omitempty"`
	RequiresReview bool            `json:"requires_review"`
	Error          string          `json:"error,omitempty"`
}

func newCheckResponse(res pe.Result, d decision.Decision, entry *audit.Entry, msg string) CheckResponse {
	out := CheckResponse{
		Action:      d.Action,
		Reason:      d.Reason,
		RiskLevel:   d.Level,
		Status:      res.Status,
		RuleTypes:   res.RuleTypes(),
		Preview:     res.Preview,
		Suggestions: res.Suggestions,
		Whitelist:   d.Whitelist,
		Message:     msg,
	}
	if entry != nil {
		out.EntryID = entry.ID
		out.RequiresReview = entry.RequiresReview
	}
	if d.Action == decision.ActionBlock {
		out.Error = msg
	}
	return out
}

// HandleScan runs detection only. Nothing is decided or recorded.
func HandleScan(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, d, "scan", err)
			return
		}
		c.JSON(http.StatusOK, d.Engine.Scan(c.Request.Context(), req.Content))
	}
}

// HandleCheck scans, decides and records one submission. Blocked
// submissions answer 403 with the decision in the body.
func HandleCheck(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, d, "check", err)
			return
		}
		out, err := d.Engine.Check(c.Request.Context(), guard.CheckInput{
			Content:        req.Content,
			Actor:          actorOf(c),
			Scope:          extensions.Scope{Project: req.Project, ContentType: req.ContentType},
			OverrideReason: req.OverrideReason,
		})
		if err != nil {
			respondError(c, d, "check", err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.RecordDecision(out.Decision)
			d.Metrics.RecordEntry(out.Entry)
		}
		status := http.StatusOK
		if out.Blocked() {
			status = http.StatusForbidden
		}
		c.JSON(status, newCheckResponse(out.Result, out.Decision, out.Entry, out.Message))
	}
}

// AttachmentResponse is the outcome for one uploaded file.
type AttachmentResponse struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
	CheckResponse
}

// HandleAttachments checks the multipart "files" of one upload. Each file
// gets its own outcome; files that could not be scanned carry an error.
func HandleAttachments(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			badRequest(c, d, "attachments", err)
			return
		}
		headers := form.File["files"]
		if len(headers) == 0 {
			badRequest(c, d, "attachments", errors.New("no files in the \"files\" field"))
			return
		}

		files := make([]attachments.File, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				badRequest(c, d, "attachments", err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				badRequest(c, d, "attachments", err)
				return
			}
			files = append(files, attachments.File{Name: fh.Filename, Data: data})
		}

		scope := extensions.Scope{Project: c.PostForm("project"), ContentType: c.PostForm("content_type")}
		outcomes, err := d.Engine.CheckAttachments(c.Request.Context(), files, actorOf(c), scope)
		if err != nil {
			respondError(c, d, "attachments", err)
			return
		}

		blocked := false
		resp := make([]AttachmentResponse, 0, len(outcomes))
		for _, o := range outcomes {
			r := AttachmentResponse{Filename: o.File.Filename, MIMEType: o.File.MIMEType, Size: o.File.Size}
			if o.Decision.Action != "" {
				r.CheckResponse = newCheckResponse(o.File.Scan, o.Decision, o.Entry, o.Message)
				if d.Metrics != nil {
					d.Metrics.RecordDecision(o.Decision)
					d.Metrics.RecordEntry(o.Entry)
				}
				blocked = blocked || o.Blocked()
			}
			if o.Err != nil {
				cls := guard.Classify(o.Err)
				r.Error = cls.Message
				if d.Metrics != nil {
					d.Metrics.RecordError("attachments", string(cls.Category))
				}
			}
			resp = append(resp, r)
		}
		c.JSON(http.StatusOK, gin.H{"blocked": blocked, "files": resp})
	}
}
