// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the DataGuard YAML configuration file.
package config

import (
	"time"

	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/audit/badgerstore"
	"github.com/AleutianAI/DataGuard/services/audit/sqlstore"
	"github.com/AleutianAI/DataGuard/services/notify"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/cache"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/AleutianAI/DataGuard/services/retention"
	"github.com/AleutianAI/DataGuard/services/telemetry"
)

type DataGuardConfig struct {
	// Detection: which rules run and how long a scan may take
	Detection DetectionConfig `yaml:"detection"`

	// Strategy: what each risk tier does to the submission
	Strategy StrategyConfig `yaml:"strategy"`

	Cache     CacheConfig     `yaml:"cache"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Retention RetentionConfig `yaml:"retention"`

	// Store: where audit entries live (memory, badger or postgres)
	Store StoreConfig `yaml:"store"`

	Attachments   AttachmentsConfig   `yaml:"attachments"`
	Notifications NotificationsConfig `yaml:"notifications"`

	// Authorization: static admins and per-project override grants
	Authorization AuthorizationConfig `yaml:"authorization"`

	Server    ServerConfig     `yaml:"server"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type DetectionConfig struct {
	Families      map[string]bool `yaml:"families,omitempty"`      // e.g. {email: false}
	Levels        map[string]bool `yaml:"levels,omitempty"`        // e.g. {low: false}
	RulesFile     string          `yaml:"rules_file,omitempty"`    // operator rule YAML
	WatchRules    bool            `yaml:"watch_rules"`             // reload rules_file on change
	Rules         []pe.RuleSpec   `yaml:"rules,omitempty"`         // inline operator rules
	MaxScanBytes  int             `yaml:"max_scan_bytes" validate:"gte=0"`
	ScanTimeout   time.Duration   `yaml:"scan_timeout" validate:"gte=0"`
	PreviewLength int             `yaml:"preview_length" validate:"gte=0"`
}

type StrategyConfig struct {
	High   string `yaml:"high" validate:"oneof=block warn log"`
	Medium string `yaml:"medium" validate:"oneof=block warn log"`
	Low    string `yaml:"low" validate:"oneof=block warn log"`

	// OnScanFailure is the action when the scanner itself fails.
	OnScanFailure string `yaml:"on_scan_failure" validate:"oneof=allow warn block"`

	// ReviewOn lists outcomes whose audit entries require review.
	ReviewOn []string `yaml:"review_on" validate:"dive,oneof=block warn override"`
}

type CacheConfig struct {
	Backend      string        `yaml:"backend" validate:"oneof=memory redis none"`
	RedisURL     string        `yaml:"redis_url,omitempty" validate:"required_if=Backend redis"`
	KeyPrefix    string        `yaml:"key_prefix"`
	ResultTTL    time.Duration `yaml:"result_ttl" validate:"gte=0"`
	RuleSetTTL   time.Duration `yaml:"rule_set_ttl" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxCostBytes int64         `yaml:"max_cost_bytes" validate:"gte=0"`
}

type WhitelistConfig struct {
	// UseSeeds installs the built-in entries when Entries is empty.
	UseSeeds bool                     `yaml:"use_seeds"`
	Entries  []decision.WhitelistRule `yaml:"entries,omitempty"`
}

type RetentionConfig struct {
	HighDays            int  `yaml:"high_days" validate:"gt=0"`
	MediumDays          int  `yaml:"medium_days" validate:"gt=0"`
	LowDays             int  `yaml:"low_days" validate:"gt=0"`
	OverrideDays        int  `yaml:"override_days" validate:"gt=0"`
	ExemptPendingReview bool `yaml:"exempt_pending_review"`

	// Schedule runs cleanup in the background every Interval while serving.
	Schedule bool          `yaml:"schedule"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// JournalPath enables the hash-chained cleanup journal.
	JournalPath string `yaml:"journal_path,omitempty"`
}

type StoreConfig struct {
	Backend  string             `yaml:"backend" validate:"oneof=memory badger postgres"`
	Badger   badgerstore.Config `yaml:"badger"`
	Postgres sqlstore.Config    `yaml:"postgres"`
}

type AttachmentsConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxSizeMB   int      `yaml:"max_size_mb" validate:"gt=0"`
	Extensions  []string `yaml:"extensions" validate:"min=1"`
	MaxBatch    int      `yaml:"max_batch" validate:"gt=0"`
	Concurrency int      `yaml:"concurrency" validate:"gt=0"`
}

type NotificationsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RatePerSecond   float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst           int           `yaml:"burst" validate:"gte=0"`
	QueueSize       int           `yaml:"queue_size" validate:"gte=0"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" validate:"gte=0"`
}

type AuthorizationConfig struct {
	Admins    []string            `yaml:"admins,omitempty"`
	Overrides map[string][]string `yaml:"overrides,omitempty"` // project -> user ids
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

func DefaultConfig() DataGuardConfig {
	scan := pe.DefaultScannerConfig()
	ret := retention.DefaultPolicy()
	att := attachments.DefaultConfig()
	cc := cache.DefaultConfig()
	nc := notify.DefaultConfig()
	badger := badgerstore.DefaultConfig()
	badger.Path = "~/.dataguard/audit"

	return DataGuardConfig{
		Detection: DetectionConfig{
			MaxScanBytes:  scan.MaxContentBytes,
			ScanTimeout:   scan.Timeout,
			PreviewLength: scan.PreviewLength,
		},
		Strategy: StrategyConfig{
			High:          string(decision.StrategyBlock),
			Medium:        string(decision.StrategyWarn),
			Low:           string(decision.StrategyLog),
			OnScanFailure: string(decision.ActionAllow),
			ReviewOn:      []string{"block", "override"},
		},
		Cache: CacheConfig{
			Backend:      cc.Backend,
			KeyPrefix:    cc.KeyPrefix,
			ResultTTL:    cc.ResultTTL,
			RuleSetTTL:   cc.RuleSetTTL,
			Timeout:      cc.Timeout,
			MaxCostBytes: cc.MaxCostBytes,
		},
		Whitelist: WhitelistConfig{UseSeeds: true},
		Retention: RetentionConfig{
			HighDays:     ret.HighDays,
			MediumDays:   ret.MediumDays,
			LowDays:      ret.LowDays,
			OverrideDays: ret.OverrideDays,
			Schedule:     true,
			Interval:     retention.DefaultInterval,
		},
		Store: StoreConfig{
			Backend:  "badger",
			Badger:   badger,
			Postgres: sqlstore.DefaultConfig(),
		},
		Attachments: AttachmentsConfig{
			Enabled:     att.Enabled,
			MaxSizeMB:   int(att.MaxSizeBytes >> 20),
			Extensions:  att.Extensions,
			MaxBatch:    att.MaxBatch,
			Concurrency: att.Concurrency,
		},
		Notifications: NotificationsConfig{
			Enabled:         true,
			RatePerSecond:   nc.RatePerSecond,
			Burst:           nc.Burst,
			QueueSize:       nc.QueueSize,
			DeliveryTimeout: nc.DeliveryTimeout,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}
