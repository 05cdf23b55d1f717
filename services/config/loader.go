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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/AleutianAI/DataGuard/services/notify"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/cache"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/AleutianAI/DataGuard/services/retention"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var configValidate = validator.New()

// DefaultPath returns ~/.dataguard/dataguard.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".dataguard", "dataguard.yaml"), nil
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (DataGuardConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		cfg.expandPaths()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.expandPaths()
	return cfg, cfg.Validate()
}

// LoadOrCreate writes the defaults to path on first run, then loads it.
func LoadOrCreate(path string) (DataGuardConfig, bool, error) {
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(path); err != nil {
			return DataGuardConfig{}, false, err
		}
		created = true
	}
	cfg, err := Load(path)
	return cfg, created, err
}

// WriteDefault writes the default configuration as YAML.
func WriteDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks struct tags, then the enums the tags cannot express.
func (c DataGuardConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Store.Backend == "badger" && !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
		return fmt.Errorf("%w: store.badger.path is required", ErrInvalidConfig)
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres.DatabaseURL == "" {
		return fmt.Errorf("%w: store.postgres.database_url is required", ErrInvalidConfig)
	}
	if _, err := c.families(); err != nil {
		return err
	}
	if _, err := c.levels(); err != nil {
		return err
	}
	for i, rule := range c.Whitelist.Entries {
		if rule.Name == "" {
			return fmt.Errorf("%w: whitelist.entries[%d] has no name", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Engine converts the file into the engine configuration.
func (c DataGuardConfig) Engine() (guard.Config, error) {
	families, err := c.families()
	if err != nil {
		return guard.Config{}, err
	}
	levels, err := c.levels()
	if err != nil {
		return guard.Config{}, err
	}
	strategies := decision.Strategies{}
	for level, name := range map[pe.RiskLevel]string{
		pe.RiskHigh:   c.Strategy.High,
		pe.RiskMedium: c.Strategy.Medium,
		pe.RiskLow:    c.Strategy.Low,
	} {
		st, err := decision.ParseStrategy(name)
		if err != nil {
			return guard.Config{}, fmt.Errorf("%w: strategy.%s: %v", ErrInvalidConfig, level, err)
		}
		strategies[level] = st
	}
	onFailure, err := decision.ParseAction(c.Strategy.OnScanFailure)
	if err != nil {
		return guard.Config{}, fmt.Errorf("%w: strategy.on_scan_failure: %v", ErrInvalidConfig, err)
	}

	return guard.Config{
		Registry: pe.RegistryConfig{
			Families:  families,
			Levels:    levels,
			RulesFile: c.Detection.RulesFile,
			Rules:     c.Detection.Rules,
		},
		Scanner: pe.ScannerConfig{
			MaxContentBytes: c.Detection.MaxScanBytes,
			Timeout:         c.Detection.ScanTimeout,
			PreviewLength:   c.Detection.PreviewLength,
		},
		Decision: decision.Config{
			Strategies:    strategies,
			OnScanFailure: onFailure,
		},
		Whitelist: c.Whitelist.Entries,
		UseSeeds:  c.Whitelist.UseSeeds,
		Retention: retention.Policy{
			HighDays:            c.Retention.HighDays,
			MediumDays:          c.Retention.MediumDays,
			LowDays:             c.Retention.LowDays,
			OverrideDays:        c.Retention.OverrideDays,
			ExemptPendingReview: c.Retention.ExemptPendingReview,
		},
		Attachments: attachments.Config{
			Enabled:      c.Attachments.Enabled,
			MaxSizeBytes: int64(c.Attachments.MaxSizeMB) << 20,
			Extensions:   c.Attachments.Extensions,
			MaxBatch:     c.Attachments.MaxBatch,
			Concurrency:  c.Attachments.Concurrency,
		},
		ReviewOn:      c.Strategy.ReviewOn,
		NotifyTimeout: c.Notifications.DeliveryTimeout,
	}, nil
}

func (c DataGuardConfig) CacheConfig() cache.Config {
	return cache.Config{
		Backend:      c.Cache.Backend,
		RedisURL:     c.Cache.RedisURL,
		KeyPrefix:    c.Cache.KeyPrefix,
		ResultTTL:    c.Cache.ResultTTL,
		RuleSetTTL:   c.Cache.RuleSetTTL,
		Timeout:      c.Cache.Timeout,
		MaxCostBytes: c.Cache.MaxCostBytes,
	}
}

func (c DataGuardConfig) NotifyConfig() notify.Config {
	return notify.Config{
		RatePerSecond:   c.Notifications.RatePerSecond,
		Burst:           c.Notifications.Burst,
		QueueSize:       c.Notifications.QueueSize,
		DeliveryTimeout: c.Notifications.DeliveryTimeout,
	}
}

func (c DataGuardConfig) LoggingConfig(service string) logging.Config {
	return logging.Config{
		Level:      logging.ParseLevel(c.Logging.Level),
		LogDir:     c.Logging.Dir,
		Service:    service,
		JSON:       c.Logging.JSON,
		RedactKeys: logging.DefaultRedactKeys,
	}
}

// Authorizer builds the static override authorizer.
func (c DataGuardConfig) Authorizer() extensions.Authorizer {
	return extensions.NewStaticAuthorizer(c.Authorization.Admins, c.Authorization.Overrides)
}

func (c DataGuardConfig) families() (map[pe.RuleType]bool, error) {
	if len(c.Detection.Families) == 0 {
		return nil, nil
	}
	out := make(map[pe.RuleType]bool, len(c.Detection.Families))
	for name, on := range c.Detection.Families {
		t, label := pe.ParseRuleType(name)
		if label != "" {
			return nil, fmt.Errorf("%w: unknown detection family %q", ErrInvalidConfig, name)
		}
		out[t] = on
	}
	return out, nil
}

func (c DataGuardConfig) levels() (map[pe.RiskLevel]bool, error) {
	if len(c.Detection.Levels) == 0 {
		return nil, nil
	}
	out := make(map[pe.RiskLevel]bool, len(c.Detection.Levels))
	for name, on := range c.Detection.Levels {
		level := pe.RiskLevel(name)
		if !level.Valid() {
			return nil, fmt.Errorf("%w: unknown risk level %q", ErrInvalidConfig, name)
		}
		out[level] = on
	}
	return out, nil
}

func (c *DataGuardConfig) expandPaths() {
	c.Store.Badger.Path = expandHome(c.Store.Badger.Path)
	c.Retention.JournalPath = expandHome(c.Retention.JournalPath)
	c.Detection.RulesFile = expandHome(c.Detection.RulesFile)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
