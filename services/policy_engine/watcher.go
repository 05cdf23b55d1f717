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
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce collapses the burst of events editors produce when
// saving a file.
const DefaultReloadDebounce = 250 * time.Millisecond

// RuleWatcher reloads a Registry whenever its operator rule file changes.
//
// The parent directory is watched rather than the file itself so that
// atomic-rename saves are picked up.
type RuleWatcher struct {
	registry *Registry
	path     string
	debounce time.Duration
	logger   *logging.Logger
	watcher  *fsnotify.Watcher

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	reloads int
}

// NewRuleWatcher creates a watcher for path. Start must be called to begin
// watching.
func NewRuleWatcher(registry *Registry, path string, debounce time.Duration, logger *logging.Logger) (*RuleWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("rule watcher: empty path")
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("rule watcher: resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rule watcher: %w", err)
	}
	return &RuleWatcher{
		registry: registry,
		path:     abs,
		debounce: debounce,
		logger:   logger,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The goroutine exits on Stop or ctx cancellation.
func (w *RuleWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("rule watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching operator rule file", "path", w.path)

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the goroutine. Safe to call twice.
func (w *RuleWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// Reloads returns how many reloads the watcher has triggered.
func (w *RuleWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *RuleWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := w.registry.Reload(ctx); err != nil {
				w.logger.Error("rule reload failed, keeping previous rules", "path", w.path, "error", err)
				continue
			}
			w.mu.Lock()
			w.reloads++
			w.mu.Unlock()
		}
	}
}
