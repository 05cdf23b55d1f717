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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/AleutianAI/DataGuard/services/retention"
)

// SecurityError is returned to callers whose submission was blocked.
type SecurityError struct {
	Level     pe.RiskLevel
	RuleTypes []string
	Message   string
}

func (e *SecurityError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("blocked: %s risk sensitive data (%s)", e.Level, strings.Join(e.RuleTypes, ", "))
}

// ErrorCategory groups errors for status mapping and user messages.
type ErrorCategory string

const (
	CategorySecurity      ErrorCategory = "security"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryDatabase      ErrorCategory = "database"
	CategoryFileSize      ErrorCategory = "file_size"
	CategoryFileFormat    ErrorCategory = "file_format"
	CategoryFileCorrupted ErrorCategory = "file_corrupted"
	CategoryGeneral       ErrorCategory = "general"
)

// IsRetryable returns true for categories a caller may retry unchanged.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTimeout || c == CategoryDatabase
}

// Classified is an error with its category and a message safe to show to
// end users.
type Classified struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// Classify maps err to a category. A nil error classifies as general with
// an empty message.
func Classify(err error) Classified {
	if err == nil {
		return Classified{Category: CategoryGeneral}
	}
	var sec *SecurityError
	switch {
	case errors.As(err, &sec):
		return Classified{CategorySecurity, sec.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, pe.ErrScanDeadline):
		return Classified{CategoryTimeout, "the operation timed out, please retry"}
	case errors.Is(err, attachments.ErrFileTooLarge), errors.Is(err, pe.ErrContentTooLarge):
		return Classified{CategoryFileSize, "the content exceeds the maximum allowed size"}
	case errors.Is(err, attachments.ErrUnsupportedFormat):
		return Classified{CategoryFileFormat, "this file format is not supported"}
	case errors.Is(err, attachments.ErrFileCorrupted):
		return Classified{CategoryFileCorrupted, "the file is corrupted or does not match its extension"}
	case errors.Is(err, audit.ErrNotFound), errors.Is(err, pe.ErrRuleNotFound):
		return Classified{CategoryNotFound, "the requested item was not found"}
	case errors.Is(err, audit.ErrReviewPrecondition):
		return Classified{CategoryValidation, "the entry is not pending review"}
	case errors.Is(err, audit.ErrInvalidEntry),
		errors.Is(err, retention.ErrInvalidPolicy),
		errors.Is(err, decision.ErrInvalidWhitelist),
		errors.Is(err, attachments.ErrBatchTooLarge),
		errors.Is(err, ErrAttachmentsDisabled):
		return Classified{CategoryValidation, err.Error()}
	case errors.Is(err, audit.ErrStore):
		return Classified{CategoryDatabase, "the audit store is unavailable, please retry"}
	}
	return Classified{CategoryGeneral, "an unexpected error occurred"}
}
