// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers audit notifications off the request path.
//
// Notifications are fire-and-forget: Enqueue never blocks, a full queue
// drops the notification, and a Notifier error or panic is logged and
// dropped. Delivery is paced by a token bucket so a burst of detections
// cannot flood the downstream channel.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"golang.org/x/time/rate"
)

// Config controls the dispatcher.
type Config struct {
	// RatePerSecond is the sustained delivery rate. 0 means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	QueueSize     int     `yaml:"queue_size"`
	// DeliveryTimeout bounds a single Notify call.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// DefaultConfig returns 10/s with a burst of 20 and a queue of 1000.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:   10,
		Burst:           20,
		QueueSize:       1000,
		DeliveryTimeout: 10 * time.Second,
	}
}

// Stats counts dispatcher outcomes.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Dispatcher queues notifications for a single delivery goroutine.
type Dispatcher struct {
	notifier extensions.Notifier
	limiter  *rate.Limiter
	cfg      Config
	logger   *logging.Logger

	queue chan extensions.Notification

	startOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	enqueued, delivered, dropped, failed atomic.Int64
}

// NewDispatcher creates a dispatcher. Notifications queue up until Start.
func NewDispatcher(notifier extensions.Notifier, cfg Config, logger *logging.Logger) *Dispatcher {
	if notifier == nil {
		notifier = extensions.NopNotifier{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Dispatcher{
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, max(cfg.Burst, 1)),
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan extensions.Notification, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.cancel = cancel
		d.mu.Unlock()
		go d.run(runCtx)
	})
}

// Stop drains what is already queued, then stops. Deliveries still pending
// when ctx ends are dropped.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	select {
	case <-d.done:
	case <-ctx.Done():
	}
	cancel()
	<-d.done
}

// Enqueue queues n without blocking. It reports false when n was dropped.
func (d *Dispatcher) Enqueue(n extensions.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- n:
		d.enqueued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping", "entry_id", n.EntryID, "queue_size", d.cfg.QueueSize)
		return false
	}
}

// Notify implements extensions.Notifier so the dispatcher can stand in for
// the synchronous notifier.
func (d *Dispatcher) Notify(_ context.Context, n extensions.Notification) error {
	if !d.Enqueue(n) {
		return fmt.Errorf("notification for %s dropped", n.EntryID)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for n := range d.queue {
		if err := d.limiter.Wait(ctx); err != nil {
			d.dropped.Add(1)
			continue
		}
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n extensions.Notification) {
	if d.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("notifier panicked", "entry_id", n.EntryID, "panic", fmt.Sprint(r))
		}
	}()
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification delivery failed", "entry_id", n.EntryID, "action", n.Action, "error", err)
		return
	}
	d.delivered.Add(1)
}

var _ extensions.Notifier = (*Dispatcher)(nil)
