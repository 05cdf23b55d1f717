// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Notify(_ context.Context, n extensions.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, n.EntryID)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func unlimited() Config {
	cfg := DefaultConfig()
	cfg.RatePerSecond = 0
	return cfg
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, unlimited(), nil)
	d.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, d.Enqueue(extensions.Notification{EntryID: id}))
	}
	d.Stop(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, rec.got())
	stats := d.Stats()
	assert.Equal(t, int64(3), stats.Enqueued)
	assert.Equal(t, int64(3), stats.Delivered)
	assert.Zero(t, stats.Dropped)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	cfg := unlimited()
	cfg.QueueSize = 1
	d := NewDispatcher(&recorder{}, cfg, nil)

	assert.True(t, d.Enqueue(extensions.Notification{EntryID: "1"}))
	assert.False(t, d.Enqueue(extensions.Notification{EntryID: "2"}))

	err := d.Notify(context.Background(), extensions.Notification{EntryID: "3"})
	assert.Error(t, err)
	assert.Equal(t, int64(2), d.Stats().Dropped)
}

func TestDispatcher_FailuresAreCounted(t *testing.T) {
	calls := 0
	notifier := extensions.NotifierFunc(func(_ context.Context, n extensions.Notification) error {
		calls++
		switch n.EntryID {
		case "panic":
			panic("webhook client exploded")
		case "error":
			return errors.New("503 from webhook")
		}
		return nil
	})
	d := NewDispatcher(notifier, unlimited(), nil)
	d.Start(context.Background())

	d.Enqueue(extensions.Notification{EntryID: "panic"})
	d.Enqueue(extensions.Notification{EntryID: "error"})
	d.Enqueue(extensions.Notification{EntryID: "ok"})
	d.Stop(context.Background())

	assert.Equal(t, 3, calls)
	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestDispatcher_EnqueueAfterStop(t *testing.T) {
	d := NewDispatcher(&recorder{}, unlimited(), nil)
	d.Start(context.Background())
	d.Stop(context.Background())
	d.Stop(context.Background())

	assert.False(t, d.Enqueue(extensions.Notification{EntryID: "late"}))
}

func TestDispatcher_StopWithoutStart(t *testing.T) {
	d := NewDispatcher(&recorder{}, unlimited(), nil)
	d.Enqueue(extensions.Notification{EntryID: "queued"})

	finished := make(chan struct{})
	go func() {
		d.Stop(context.Background())
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a dispatcher that was never started")
	}
}

func TestDispatcher_StopDeadlineDropsBacklog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RatePerSecond = 0.001
	cfg.Burst = 1
	rec := &recorder{}
	d := NewDispatcher(rec, cfg, nil)
	d.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		d.Enqueue(extensions.Notification{EntryID: id})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Stop(ctx)

	assert.Equal(t, []string{"a"}, rec.got())
	assert.Equal(t, int64(2), d.Stats().Dropped)
}
