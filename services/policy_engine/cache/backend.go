// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownBackend is returned by New for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Backend is a byte-oriented key/value store with per-key TTL.
//
// Implementations must be safe for concurrent use. A missing or expired key
// is reported as (nil, false, nil), never as an error.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Len counts keys starting with prefix. -1 means unknown.
	Len(ctx context.Context, prefix string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// NopBackend stores nothing. Every Get is a miss.
type NopBackend struct{}

func (NopBackend) Name() string { return "none" }

func (NopBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NopBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NopBackend) Delete(context.Context, string) error { return nil }

func (NopBackend) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

func (NopBackend) Len(context.Context, string) (int64, error) { return 0, nil }

func (NopBackend) Ping(context.Context) error { return nil }

func (NopBackend) Close() error { return nil }

var _ Backend = NopBackend{}
