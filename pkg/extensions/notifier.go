// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// Notification describes one recorded audit event.
//
// It carries only masked data: the preview has already been redacted and
// raw matched values are never included.
type Notification struct {
	EntryID        string    `json:"entry_id"`
	Actor          Actor     `json:"actor"`
	Scope          Scope     `json:"scope"`
	OperationType  string    `json:"operation_type"`
	RiskLevel      string    `json:"risk_level"`
	Action         string    `json:"action"`
	RuleTypes      []string  `json:"rule_types"`
	Preview        string    `json:"preview"`
	RequiresReview bool      `json:"requires_review"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notifier delivers alerts for recorded events (email, chat, webhook).
//
// Notifications are fire-and-forget: DataGuard delivers them from a
// background dispatcher, logs errors and never lets a failure affect a scan
// or a decision.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

var (
	_ Notifier = NopNotifier{}
	_ Notifier = NotifierFunc(nil)
)
