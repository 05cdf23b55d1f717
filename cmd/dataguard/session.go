// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/audit/badgerstore"
	"github.com/AleutianAI/DataGuard/services/audit/sqlstore"
	"github.com/AleutianAI/DataGuard/services/config"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/AleutianAI/DataGuard/services/policy_engine/cache"
	"github.com/AleutianAI/DataGuard/services/retention"
)

// session is one opened engine plus the resources it does not own.
type session struct {
	engine  *guard.Engine
	journal *retention.Journal
}

// Close releases the engine, its store and cache, then the journal.
func (s *session) Close() error {
	var errs []error
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the audit store named by store.backend.
func openStore(ctx context.Context, cfg config.DataGuardConfig, logger *logging.Logger) (audit.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "postgres":
		s, err := sqlstore.Open(ctx, cfg.Store.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger", "":
		bc := cfg.Store.Badger
		bc.Logger = logger.Slog()
		s, err := badgerstore.Open(bc)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openSession builds the engine described by cfg. ext carries the
// authorizer and notifier; a zero value gets the configured static
// authorizer and no notifications.
func openSession(ctx context.Context, cfg config.DataGuardConfig, logger *logging.Logger, ext extensions.ServiceOptions, opts ...guard.Option) (*session, error) {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	if ext.Authorizer == nil {
		ext.Authorizer = cfg.Authorizer()
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open the audit store: %w", err)
	}
	resultCache, err := cache.New(cfg.CacheConfig(), logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build the result cache: %w", err)
	}

	s := &session{}
	if cfg.Retention.JournalPath != "" {
		j, err := retention.OpenJournal(cfg.Retention.JournalPath)
		if err != nil {
			resultCache.Close()
			store.Close()
			return nil, err
		}
		s.journal = j
		opts = append(opts, guard.WithJournal(j))
	}

	opts = append([]guard.Option{
		guard.WithLogger(logger),
		guard.WithCache(resultCache),
		guard.WithExtensions(ext),
	}, opts...)
	engine, err := guard.New(engineCfg, store, opts...)
	if err != nil {
		resultCache.Close()
		store.Close()
		if s.journal != nil {
			s.journal.Close()
		}
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// withSession opens a CLI session with default extensions, runs fn and
// closes the session.
func withSession(ctx context.Context, fn func(*guard.Engine) error) error {
	s, err := openSession(ctx, appConfig, appLogger, extensions.ServiceOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			appLogger.Warn("Failed to close session", "error", cerr)
		}
	}()
	return fn(s.engine)
}
