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
	"net/http"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/api/handlers"
	"github.com/AleutianAI/DataGuard/services/api/routes"
	"github.com/AleutianAI/DataGuard/services/config"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/AleutianAI/DataGuard/services/notify"
	"github.com/AleutianAI/DataGuard/services/observability"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/retention"
	"github.com/AleutianAI/DataGuard/services/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// newRouter builds the gin engine with recovery and tracing middleware and
// every DataGuard route.
func newRouter(cfg config.DataGuardConfig, deps handlers.Deps, authorizer extensions.Authorizer, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if cfg.Logging.Level == "debug" {
		router.Use(gin.Logger())
	}
	routes.SetupRoutes(router, deps, authorizer, gatherer)
	return router
}

// runServe serves the HTTP API until SIGINT or SIGTERM, then shuts down in
// order: stop accepting requests, stop background jobs, drain
// notifications, close the store, flush telemetry.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg, logger := appConfig, appLogger

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, reg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics := observability.NewMetrics(reg)

	authorizer := cfg.Authorizer()
	ext := extensions.ServiceOptions{Authorizer: authorizer}
	var dispatcher *notify.Dispatcher
	if cfg.Notifications.Enabled {
		dispatcher = notify.NewDispatcher(notify.NewLogNotifier(logger), cfg.NotifyConfig(), logger)
		// Detached so queued notifications drain after the signal.
		dispatcher.Start(context.WithoutCancel(ctx))
		ext.Notifier = dispatcher
	}

	sess, err := openSession(ctx, cfg, logger, ext, guard.WithScanObserver(metrics))
	if err != nil {
		return err
	}

	var scheduler *retention.Scheduler
	if cfg.Retention.Schedule {
		scheduler = retention.NewScheduler(sess.engine.Retention(), cfg.Retention.Interval)
		if err := scheduler.Start(ctx); err != nil {
			sess.Close()
			return err
		}
	}

	var watcher *pe.RuleWatcher
	if cfg.Detection.WatchRules && cfg.Detection.RulesFile != "" {
		w, err := pe.NewRuleWatcher(sess.engine.Registry(), cfg.Detection.RulesFile, 0, logger)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			logger.Warn("Rule file watching disabled", "path", cfg.Detection.RulesFile, "error", err)
		} else {
			watcher = w
		}
	}

	deps := handlers.Deps{Engine: sess.engine, Metrics: metrics, Logger: logger}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(cfg, deps, authorizer, reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("DataGuard API listening", "addr", cfg.Server.Addr, "store", cfg.Store.Backend, "cache", cfg.Cache.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down DataGuard API")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, shutdown(shutdownCtx, logger, srv, scheduler, watcher, dispatcher, sess, shutdownTelemetry))
}

func shutdown(
	ctx context.Context,
	logger *logging.Logger,
	srv *http.Server,
	scheduler *retention.Scheduler,
	watcher *pe.RuleWatcher,
	dispatcher *notify.Dispatcher,
	sess *session,
	shutdownTelemetry func(context.Context) error,
) error {
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if dispatcher != nil {
		dispatcher.Stop(ctx)
		stats := dispatcher.Stats()
		logger.Info("Notifications drained", "delivered", stats.Delivered, "dropped", stats.Dropped, "failed", stats.Failed)
	}
	if err := sess.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	if err := shutdownTelemetry(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
