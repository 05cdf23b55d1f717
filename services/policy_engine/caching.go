// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// ContentHashSize is the digest length in bytes (128 bits).
const ContentHashSize = 16

// ContentHash returns the hex BLAKE3-128 digest of the exact content bytes.
func ContentHash(content string) string {
	h := blake3.New(ContentHashSize, nil)
	_, _ = h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeFunc produces a scan result on a cache miss. The boolean reports
// whether the result may be cached.
type ComputeFunc func(ctx context.Context) (Result, bool)

// ResultCache memoizes scan results by content hash.
//
// Implementations must treat their own failures as misses: GetOrCompute
// always returns a result. A cached result whose RulesVersion differs from
// version is treated as a miss.
type ResultCache interface {
	GetOrCompute(ctx context.Context, hash string, version uint64, compute ComputeFunc) (Result, bool)
}

// NopCache never stores anything. It satisfies both ResultCache and
// RuleSetCache and is the default when no cache is configured.
type NopCache struct{}

func (NopCache) GetOrCompute(ctx context.Context, _ string, _ uint64, compute ComputeFunc) (Result, bool) {
	res, _ := compute(ctx)
	return res, false
}

func (NopCache) GetRuleSet(context.Context) ([]RuleSpec, bool) { return nil, false }
func (NopCache) PutRuleSet(context.Context, []RuleSpec)        {}
func (NopCache) InvalidateRuleSet(context.Context)             {}

var (
	_ ResultCache  = NopCache{}
	_ RuleSetCache = NopCache{}
)
