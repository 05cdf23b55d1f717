// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
)

// LogNotifier writes every notification to the structured log. It is the
// notifier of the standalone server when no host channel is wired in.
// The preview is not logged.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n extensions.Notification) error {
	l.logger.Info("audit notification",
		"entry_id", n.EntryID,
		"actor", n.Actor.ID,
		"project", n.Scope.Project,
		"operation_type", n.OperationType,
		"risk_level", n.RiskLevel,
		"action", n.Action,
		"rule_types", n.RuleTypes,
		"requires_review", n.RequiresReview,
	)
	return nil
}

var _ extensions.Notifier = (*LogNotifier)(nil)
