// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"context"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
)

// AttachmentOutcome is the result of checking one uploaded file.
type AttachmentOutcome struct {
	File     attachments.Result `json:"file"`
	Decision decision.Decision  `json:"decision"`
	Entry    *audit.Entry       `json:"entry,omitempty"`
	Message  string             `json:"message,omitempty"`
	// Err is set by CheckAttachments for files that could not be scanned.
	Err error `json:"-"`
}

// Blocked reports whether the upload must be rejected.
func (o AttachmentOutcome) Blocked() bool {
	return o.Decision.Action == decision.ActionBlock
}

// CheckAttachment scans a file, decides and records the detection as an
// attachment scan. File errors (size, format, corruption) are returned
// before anything is decided.
func (e *Engine) CheckAttachment(ctx context.Context, name string, data []byte, actor extensions.Actor, scope extensions.Scope) (AttachmentOutcome, error) {
	if !e.attachments.Enabled() {
		return AttachmentOutcome{}, ErrAttachmentsDisabled
	}
	file, err := e.attachments.Scan(ctx, name, data)
	if err != nil {
		return AttachmentOutcome{File: file}, err
	}
	return e.decideAttachment(ctx, file, actor, scope)
}

// CheckAttachments scans a batch in parallel, then decides and records each
// file in input order. Per-file failures land in AttachmentOutcome.Err.
func (e *Engine) CheckAttachments(ctx context.Context, files []attachments.File, actor extensions.Actor, scope extensions.Scope) ([]AttachmentOutcome, error) {
	if !e.attachments.Enabled() {
		return nil, ErrAttachmentsDisabled
	}
	results, err := e.attachments.ScanBatch(ctx, files)
	if err != nil {
		return nil, err
	}
	out := make([]AttachmentOutcome, len(results))
	for i, file := range results {
		if file.Err != nil {
			out[i] = AttachmentOutcome{File: file, Err: file.Err}
			continue
		}
		o, err := e.decideAttachment(ctx, file, actor, scope)
		o.Err = err
		out[i] = o
	}
	return out, nil
}

func (e *Engine) decideAttachment(ctx context.Context, file attachments.Result, actor extensions.Actor, scope extensions.Scope) (AttachmentOutcome, error) {
	if scope.ContentType == "" {
		scope.ContentType = string(audit.ContentAttachment)
	}
	d := e.Decide(ctx, file.Scan, actor, scope)
	out := AttachmentOutcome{File: file, Decision: d, Message: actionMessage(file.Scan, d)}

	op := operationFor(d)
	if op == audit.OpDetection || op == audit.OpWarning {
		op = audit.OpAttachmentScan
	}
	entry, err := e.RecordEvent(ctx, Event{
		Result:        file.Scan,
		Decision:      d,
		Actor:         actor,
		Scope:         scope,
		OperationType: op,
		FileType:      file.Extension,
		FileSize:      file.Size,
	})
	out.Entry = entry
	return out, err
}
