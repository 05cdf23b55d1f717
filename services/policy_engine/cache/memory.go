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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxCostBytes bounds the in-process cache to 64 MiB of values.
const DefaultMaxCostBytes = 64 << 20

// MemoryBackend is an in-process cache on ristretto.
//
// ristretto cannot enumerate its keys, so a side index of live keys and
// their expiry is kept for prefix invalidation. The index may briefly list
// keys ristretto has already evicted; those are pruned lazily.
type MemoryBackend struct {
	cache *ristretto.Cache[string, []byte]

	mu   sync.Mutex
	keys map[string]time.Time
}

// NewMemoryBackend creates an in-process backend holding at most maxCost
// bytes of values.
func NewMemoryBackend(maxCost int64) (*MemoryBackend, error) {
	if maxCost <= 0 {
		maxCost = DefaultMaxCostBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// ~10x the expected item count, assuming ~1 KiB entries.
		NumCounters:        max(maxCost/1024*10, 1000),
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &MemoryBackend{cache: c, keys: make(map[string]time.Time)}, nil
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !m.cache.SetWithTTL(key, value, int64(len(value)), ttl) {
		// Dropped by contention or admission; a later Get simply misses.
		return nil
	}
	m.cache.Wait()

	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.keys[key] = expiry
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.cache.Del(key)
	m.cache.Wait()
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	var victims []string
	for k := range m.keys {
		if strings.HasPrefix(k, prefix) {
			victims = append(victims, k)
			delete(m.keys, k)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, k := range victims {
		if _, ok := m.cache.Get(k); ok {
			removed++
		}
		m.cache.Del(k)
	}
	m.cache.Wait()
	return removed, nil
}

func (m *MemoryBackend) Len(_ context.Context, prefix string) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, exp := range m.keys {
		if !exp.IsZero() && now.After(exp) {
			delete(m.keys, k)
			continue
		}
		if _, ok := m.cache.Get(k); !ok {
			delete(m.keys, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error {
	m.cache.Close()
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
