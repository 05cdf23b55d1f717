// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache memoizes scan results and the active rule set on a pluggable
// key/value backend (in-process ristretto, Redis, or nothing).
//
// Backend failures never reach callers. A failed or slow backend call is
// logged, counted, and treated as a miss, so the scanner keeps working
// uncached.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"golang.org/x/sync/singleflight"
)

// Defaults.
const (
	DefaultKeyPrefix  = "dataguard:"
	DefaultResultTTL  = time.Hour
	DefaultRuleSetTTL = time.Hour
	DefaultTimeout    = 200 * time.Millisecond
)

// Config selects and tunes the backend.
type Config struct {
	// Backend is memory, redis or none. Empty means memory.
	Backend      string
	RedisURL     string
	KeyPrefix    string
	ResultTTL    time.Duration
	RuleSetTTL   time.Duration
	Timeout      time.Duration
	MaxCostBytes int64
}

// DefaultConfig returns an in-process cache with one-hour TTLs.
func DefaultConfig() Config {
	return Config{
		Backend:      "memory",
		KeyPrefix:    DefaultKeyPrefix,
		ResultTTL:    DefaultResultTTL,
		RuleSetTTL:   DefaultRuleSetTTL,
		Timeout:      DefaultTimeout,
		MaxCostBytes: DefaultMaxCostBytes,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = d.ResultTTL
	}
	if c.RuleSetTTL <= 0 {
		c.RuleSetTTL = d.RuleSetTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxCostBytes <= 0 {
		c.MaxCostBytes = d.MaxCostBytes
	}
	return c
}

// Health is a point-in-time view of cache effectiveness.
type Health struct {
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Total   int64  `json:"total"`
	Errors  int64  `json:"errors"`
	// HitRate is hits/total*100 rounded to two decimals; 0 when total is 0.
	HitRate float64 `json:"hit_rate"`
	// Entries is the number of cached results, -1 when unknown.
	Entries int64 `json:"entries"`
}

// Cache implements policy_engine.ResultCache and policy_engine.RuleSetCache.
type Cache struct {
	backend Backend
	cfg     Config
	logger  *logging.Logger
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

var (
	_ pe.ResultCache  = (*Cache)(nil)
	_ pe.RuleSetCache = (*Cache)(nil)
)

// New builds the backend named in cfg.
func New(cfg Config, logger *logging.Logger) (*Cache, error) {
	cfg = cfg.withDefaults()

	var backend Backend
	switch cfg.Backend {
	case "memory":
		b, err := NewMemoryBackend(cfg.MaxCostBytes)
		if err != nil {
			return nil, err
		}
		backend = b
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis cache backend requires a redis url")
		}
		client, err := Connect(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		backend = NewRedisBackend(client)
	case "none":
		backend = NopBackend{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return NewWithBackend(backend, cfg, logger), nil
}

// NewWithBackend wraps an existing backend.
func NewWithBackend(backend Backend, cfg Config, logger *logging.Logger) *Cache {
	if backend == nil {
		backend = NopBackend{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{backend: backend, cfg: cfg.withDefaults(), logger: logger}
}

// Backend returns the underlying store.
func (c *Cache) Backend() Backend {
	return c.backend
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) resultKey(hash string) string {
	return c.cfg.KeyPrefix + "result:" + hash
}

func (c *Cache) ruleSetKey() string {
	return c.cfg.KeyPrefix + "ruleset"
}

// =============================================================================
// Results
// =============================================================================

// Get returns the cached result for hash if it was produced by the rule set
// with the given version.
func (c *Cache) Get(ctx context.Context, hash string, version uint64) (pe.Result, bool) {
	res, ok := c.lookup(ctx, hash, version)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	recordLookup(ctx, c.backend.Name(), ok)
	return res, ok
}

// Put stores res under hash. A non-positive ttl uses the configured result TTL.
func (c *Cache) Put(ctx context.Context, hash string, res pe.Result, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.ResultTTL
	}
	raw, err := json.Marshal(res)
	if err != nil {
		c.fail("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.backend.Set(ctx, c.resultKey(hash), raw, ttl); err != nil {
		c.fail("set", err)
	}
}

type outcome struct {
	res       pe.Result
	cacheable bool
}

// GetOrCompute returns the cached result or runs compute once per key even
// under concurrent misses. Only cacheable results are shared with waiting
// callers; the rest recompute on their own context.
func (c *Cache) GetOrCompute(ctx context.Context, hash string, version uint64, compute pe.ComputeFunc) (pe.Result, bool) {
	ctx, span := startLookupSpan(ctx, c.backend.Name())
	defer span.End()

	if res, ok := c.Get(ctx, hash, version); ok {
		setLookupSpanResult(span, true)
		return res, true
	}
	setLookupSpanResult(span, false)

	flightKey := c.resultKey(hash) + "@" + strconv.FormatUint(version, 16)
	v, _, shared := c.group.Do(flightKey, func() (any, error) {
		if res, ok := c.lookup(ctx, hash, version); ok {
			return outcome{res: res, cacheable: true}, nil
		}
		res, cacheable := compute(ctx)
		if cacheable {
			c.Put(ctx, hash, res, c.cfg.ResultTTL)
		}
		return outcome{res: res, cacheable: cacheable}, nil
	})

	out := v.(outcome)
	if shared && !out.cacheable {
		res, _ := compute(ctx)
		return res, false
	}
	return out.res, false
}

func (c *Cache) lookup(ctx context.Context, hash string, version uint64) (pe.Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, ok, err := c.backend.Get(ctx, c.resultKey(hash))
	if err != nil {
		c.fail("get", err)
		return pe.Result{}, false
	}
	if !ok {
		return pe.Result{}, false
	}
	var res pe.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.fail("decode", err)
		return pe.Result{}, false
	}
	if res.RulesVersion != version {
		return pe.Result{}, false
	}
	return res, true
}

// Invalidate drops cached results whose content hash starts with prefix.
// An empty prefix drops every cached result. The rule set entry is untouched.
func (c *Cache) Invalidate(ctx context.Context, prefix string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout*10)
	defer cancel()
	n, err := c.backend.DeletePrefix(ctx, c.resultKey(prefix))
	if err != nil {
		c.fail("invalidate", err)
		return n, fmt.Errorf("invalidate cache: %w", err)
	}
	c.logger.Info("result cache invalidated", "prefix", prefix, "removed", n)
	return n, nil
}

// =============================================================================
// Rule set
// =============================================================================

func (c *Cache) GetRuleSet(ctx context.Context) ([]pe.RuleSpec, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, ok, err := c.backend.Get(ctx, c.ruleSetKey())
	if err != nil {
		c.fail("get_ruleset", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var specs []pe.RuleSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		c.fail("decode_ruleset", err)
		return nil, false
	}
	return specs, true
}

func (c *Cache) PutRuleSet(ctx context.Context, specs []pe.RuleSpec) {
	raw, err := json.Marshal(specs)
	if err != nil {
		c.fail("encode_ruleset", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.backend.Set(ctx, c.ruleSetKey(), raw, c.cfg.RuleSetTTL); err != nil {
		c.fail("set_ruleset", err)
	}
}

func (c *Cache) InvalidateRuleSet(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.backend.Delete(ctx, c.ruleSetKey()); err != nil {
		c.fail("delete_ruleset", err)
	}
}

// =============================================================================
// Health
// =============================================================================

// Health reports counters and probes the backend.
func (c *Cache) Health(ctx context.Context) Health {
	hits, misses := c.hits.Load(), c.misses.Load()
	h := Health{
		Backend: c.backend.Name(),
		Healthy: true,
		Hits:    hits,
		Misses:  misses,
		Total:   hits + misses,
		Errors:  c.errors.Load(),
		HitRate: HitRate(hits, hits+misses),
		Entries: -1,
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.backend.Ping(ctx); err != nil {
		h.Healthy = false
		h.Error = err.Error()
		return h
	}
	if n, err := c.backend.Len(ctx, c.resultKey("")); err == nil {
		h.Entries = n
	}
	return h
}

// HitRate is hits/total*100 rounded to two decimals.
func HitRate(hits, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(hits)/float64(total)*10000) / 100
}

func (c *Cache) fail(op string, err error) {
	c.errors.Add(1)
	recordError(context.Background(), c.backend.Name(), op)
	c.logger.Warn("cache operation failed, continuing uncached",
		"backend", c.backend.Name(),
		"op", op,
		"error", err,
	)
}
