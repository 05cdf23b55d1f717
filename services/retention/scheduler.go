// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSchedulerRunning is returned by Start on a running scheduler.
var ErrSchedulerRunning = errors.New("retention scheduler is already running")

// DefaultInterval is how often the scheduler runs cleanup.
const DefaultInterval = 24 * time.Hour

// Scheduler runs Cleanup periodically.
//
// # Description
//
// Uses the ticker + done channel pattern. The first cycle runs right after
// Start. Stop waits for an in-flight cycle to finish.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler struct {
	service  *Service
	interval time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}

	// cycles counts completed runs, including RunNow.
	cycles int64
}

// NewScheduler creates a scheduler. interval <= 0 selects DefaultInterval.
func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{service: service, interval: interval}
}

// Start launches the background loop. It stops on Stop or when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.service.logger.Info("retention scheduler starting", "interval", s.interval.String())
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for it to exit. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.service.logger.Info("retention scheduler stopped")
}

// RunNow performs one cleanup immediately.
func (s *Scheduler) RunNow(ctx context.Context) CleanupReport {
	report := s.service.Cleanup(ctx)
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()
	return report
}

// Cycles returns the number of completed runs.
func (s *Scheduler) Cycles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *Scheduler) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunNow(ctx)
	for {
		select {
		case <-ctx.Done():
			s.service.logger.Info("retention scheduler stopped (context cancelled)")
			return
		case <-done:
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}
