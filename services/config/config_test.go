// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.True(t, cfg.Whitelist.UseSeeds)
	assert.Equal(t, []string{"block", "override"}, cfg.Strategy.ReviewOn)

	eng, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, decision.StrategyBlock, eng.Decision.Strategies[pe.RiskHigh])
	assert.Equal(t, decision.StrategyWarn, eng.Decision.Strategies[pe.RiskMedium])
	assert.Equal(t, decision.StrategyLog, eng.Decision.Strategies[pe.RiskLow])
	assert.Equal(t, decision.ActionAllow, eng.Decision.OnScanFailure)
	assert.Equal(t, int64(50<<20), eng.Attachments.MaxSizeBytes)
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
detection:
  families:
    email: false
  levels:
    low: false
  scan_timeout: 5s
strategy:
  medium: block
  review_on: [block, warn]
store:
  backend: memory
retention:
  medium_days: 30
  exempt_pending_review: true
whitelist:
  use_seeds: false
  entries:
    - name: corp_net
      type: ip
      pattern: 10.0.0.0/8
      match_type: wildcard
authorization:
  admins: [root]
  overrides:
    apollo: [bob]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Detection.ScanTimeout)
	assert.Equal(t, "memory", cfg.Store.Backend)
	// untouched sections keep their defaults
	assert.Equal(t, 2555, cfg.Retention.HighDays)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	eng, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, map[pe.RuleType]bool{pe.RuleTypeEmail: false}, eng.Registry.Families)
	assert.Equal(t, map[pe.RiskLevel]bool{pe.RiskLow: false}, eng.Registry.Levels)
	assert.Equal(t, decision.StrategyBlock, eng.Decision.Strategies[pe.RiskMedium])
	assert.Equal(t, []string{"block", "warn"}, eng.ReviewOn)
	assert.Equal(t, 30, eng.Retention.MediumDays)
	assert.True(t, eng.Retention.ExemptPendingReview)
	assert.False(t, eng.UseSeeds)
	require.Len(t, eng.Whitelist, 1)
	assert.Equal(t, decision.WhitelistIP, eng.Whitelist[0].Type)
	assert.NotNil(t, cfg.Authorizer())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown strategy", "strategy:\n  high: ignore\n"},
		{"unknown family", "detection:\n  families:\n    passport: false\n"},
		{"unknown level", "detection:\n  levels:\n    critical: false\n"},
		{"redis without url", "cache:\n  backend: redis\n"},
		{"postgres without url", "store:\n  backend: postgres\n"},
		{"non-positive retention", "retention:\n  low_days: 0\n"},
		{"unknown review outcome", "strategy:\n  review_on: [delete]\n"},
		{"unknown store", "store:\n  backend: sqlite\n"},
		{"unnamed whitelist entry", "whitelist:\n  entries:\n    - type: user\n      pattern: x\n      match_type: exact\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "detection: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dataguard.yaml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)
	assert.Equal(t, DefaultConfig().Strategy, cfg.Strategy)
	assert.Equal(t, DefaultConfig().Detection.ScanTimeout, cfg.Detection.ScanTimeout)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisURL = "redis://localhost:6379/0"
	cfg.Logging.Level = "debug"
	cfg.Notifications.QueueSize = 7

	cc := cfg.CacheConfig()
	assert.Equal(t, "redis", cc.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cc.RedisURL)

	assert.Equal(t, 7, cfg.NotifyConfig().QueueSize)

	lc := cfg.LoggingConfig("dataguard-test")
	assert.Equal(t, "dataguard-test", lc.Service)
	assert.Equal(t, "DEBUG", lc.Level.String())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "audit"), expandHome("~/audit"))
	assert.Equal(t, "/var/lib/audit", expandHome("/var/lib/audit"))
	assert.Equal(t, "", expandHome(""))
}
