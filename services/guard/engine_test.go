// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/attachments"
	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/guard"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/cache"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type notifications struct {
	mu  sync.Mutex
	got []extensions.Notification
}

func (n *notifications) Notify(_ context.Context, note extensions.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
	return nil
}

func (n *notifications) all() []extensions.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]extensions.Notification(nil), n.got...)
}

type harness struct {
	engine *guard.Engine
	clock  *clock
	notes  *notifications
}

func newHarness(t *testing.T, cfg guard.Config, ext extensions.ServiceOptions, opts ...guard.Option) *harness {
	t.Helper()
	h := &harness{clock: &clock{now: base}, notes: &notifications{}}
	if ext.Notifier == nil {
		ext.Notifier = h.notes
	}
	seq := 0
	var seqMu sync.Mutex
	opts = append([]guard.Option{
		guard.WithLogger(logging.Discard()),
		guard.WithExtensions(ext),
		guard.WithClock(h.clock.Now),
		guard.WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("entry-%d", seq)
		}),
	}, opts...)
	engine, err := guard.New(cfg, audit.NewMemoryStore(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	h.engine = engine
	return h
}

var alice = extensions.Actor{ID: "alice", IP: "10.20.0.7", UserAgent: "web/1.0"}

func apollo() extensions.Scope {
	return extensions.Scope{Project: "apollo", ContentType: "issue"}
}

func TestCheck_NationalIDIsBlocked(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{
		Content: "A123456789",
		Actor:   alice,
		Scope:   apollo(),
	})
	require.NoError(t, err)

	assert.Equal(t, pe.RiskHigh, out.Result.Level)
	assert.Equal(t, []string{"id_card"}, out.Result.RuleTypes())
	assert.Equal(t, decision.ActionBlock, out.Decision.Action)
	assert.True(t, out.Blocked())
	assert.NotEmpty(t, out.Message)

	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.OpBlockedSubmission, out.Entry.OperationType)
	assert.Equal(t, audit.ContentIssue, out.Entry.ContentType)
	assert.Equal(t, audit.StatusPending, out.Entry.ReviewStatus)
	assert.True(t, out.Entry.RequiresReview)
	assert.Equal(t, "10.20.0.7", out.Entry.IPAddress)
	assert.NotContains(t, out.Entry.Preview, "A123456789")

	var sec *guard.SecurityError
	require.ErrorAs(t, out.Err(), &sec)
	assert.Equal(t, pe.RiskHigh, sec.Level)
	assert.Equal(t, guard.CategorySecurity, guard.Classify(out.Err()).Category)
}

func TestCheck_MobileNumberWarns(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{
		Content: "0912345678",
		Actor:   alice,
		Scope:   apollo(),
	})
	require.NoError(t, err)

	assert.Equal(t, pe.RiskMedium, out.Result.Level)
	assert.Equal(t, decision.ActionWarn, out.Decision.Action)
	assert.NoError(t, out.Err())
	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.OpWarning, out.Entry.OperationType)
	assert.False(t, out.Entry.RequiresReview)
}

func TestCheck_CleanContentRecordsNothing(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	out, err := h.engine.Check(ctx, guard.CheckInput{Content: "hello world", Actor: alice, Scope: apollo()})
	require.NoError(t, err)

	assert.Equal(t, pe.ScanClean, out.Result.Status)
	assert.Equal(t, decision.ActionAllow, out.Decision.Action)
	assert.Equal(t, decision.ReasonClean, out.Decision.Reason)
	assert.Nil(t, out.Entry)
	assert.Empty(t, out.Message)

	page, err := h.engine.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, h.notes.all())
}

func TestReview_ApproveThenRejectFails(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	out, err := h.engine.Check(ctx, guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	require.NotNil(t, out.Entry)

	approved, err := h.engine.Approve(ctx, out.Entry.ID, "rita", "false positive", "")
	require.NoError(t, err)
	assert.Equal(t, audit.StatusApproved, approved.ReviewStatus)
	assert.Equal(t, audit.DecisionAllow, approved.ReviewDecision)

	_, err = h.engine.Reject(ctx, out.Entry.ID, "rita", "changed my mind", "")
	assert.ErrorIs(t, err, audit.ErrReviewPrecondition)
	assert.Equal(t, guard.CategoryValidation, guard.Classify(err).Category)

	stored, err := h.engine.Get(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusApproved, stored.ReviewStatus)
}

func TestCheck_OverrideIsRecordedForReview(t *testing.T) {
	auth := extensions.NewStaticAuthorizer(nil, map[string][]string{"apollo": {"bob"}})
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{Authorizer: auth})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{
		Content:        "card 4111-1111-1111-1111",
		Actor:          extensions.Actor{ID: "bob"},
		Scope:          apollo(),
		OverrideReason: "customer asked for a refund",
	})
	require.NoError(t, err)

	assert.Equal(t, decision.ActionAllow, out.Decision.Action)
	assert.True(t, out.Decision.Override())
	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.OpOverride, out.Entry.OperationType)
	assert.Equal(t, "customer asked for a refund", out.Entry.OverrideReason)
	assert.True(t, out.Entry.RequiresReview)
}

func TestCheck_SeedWhitelistClearsSampleContent(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{
		Content: "write to test@example.com",
		Actor:   alice,
		Scope:   apollo(),
	})
	require.NoError(t, err)

	assert.True(t, out.Result.Detected)
	assert.Equal(t, decision.ReasonWhitelisted, out.Decision.Reason)
	assert.Equal(t, "test_content", out.Decision.Whitelist)
	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.OpDetection, out.Entry.OperationType)
}

func TestCheck_WithoutSeedsSampleContentWarns(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.UseSeeds = false
	h := newHarness(t, cfg, extensions.ServiceOptions{})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{Content: "write to test@example.com", Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, decision.ActionWarn, out.Decision.Action)
	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.ContentMessage, out.Entry.ContentType)
}

func TestCheck_ReviewOnIsConfigurable(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.ReviewOn = []string{guard.ReviewOnWarn}
	h := newHarness(t, cfg, extensions.ServiceOptions{})
	ctx := context.Background()

	warn, err := h.engine.Check(ctx, guard.CheckInput{Content: "0912345678", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	assert.True(t, warn.Entry.RequiresReview)

	block, err := h.engine.Check(ctx, guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	assert.False(t, block.Entry.RequiresReview)
}

func TestCheck_NotifiesHost(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	require.NoError(t, err)

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, out.Entry.ID, notes[0].EntryID)
	assert.Equal(t, "block", notes[0].Action)
	assert.Equal(t, "high", notes[0].RiskLevel)
	assert.Equal(t, "apollo", notes[0].Scope.Project)
	assert.True(t, notes[0].RequiresReview)
	assert.Equal(t, base, notes[0].CreatedAt)
}

func TestCheck_NotifierFailureDoesNotFailCheck(t *testing.T) {
	failing := extensions.NotifierFunc(func(context.Context, extensions.Notification) error {
		return errors.New("smtp down")
	})
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{Notifier: failing})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	assert.NotNil(t, out.Entry)
}

func TestCheck_PanickingNotifierDoesNotFailCheck(t *testing.T) {
	panicking := extensions.NotifierFunc(func(context.Context, extensions.Notification) error {
		panic("smtp client nil")
	})
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{Notifier: panicking})

	var out guard.Outcome
	var err error
	require.NotPanics(t, func() {
		out, err = h.engine.Check(context.Background(), guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	})
	require.NoError(t, err)
	assert.True(t, out.Blocked())
	require.NotNil(t, out.Entry)

	_, err = h.engine.Get(context.Background(), out.Entry.ID)
	assert.NoError(t, err)
}

func TestCheck_BlockingNotifierIsBounded(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	blocking := extensions.NotifierFunc(func(context.Context, extensions.Notification) error {
		<-release
		return nil
	})
	cfg := guard.DefaultConfig()
	cfg.NotifyTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, extensions.ServiceOptions{Notifier: blocking})

	start := time.Now()
	out, err := h.engine.Check(context.Background(), guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	assert.True(t, out.Blocked())
	assert.NotNil(t, out.Entry)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCheck_InvalidContentTypeSurfacesError(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})

	out, err := h.engine.Check(context.Background(), guard.CheckInput{
		Content: "A123456789",
		Actor:   alice,
		Scope:   extensions.Scope{ContentType: "tweet"},
	})
	assert.ErrorIs(t, err, audit.ErrInvalidEntry)
	assert.True(t, out.Blocked())
	assert.Nil(t, out.Entry)
}

func TestMarkForReview_NotifiesAndResets(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	out, err := h.engine.Check(ctx, guard.CheckInput{Content: "0912345678", Actor: alice, Scope: apollo()})
	require.NoError(t, err)

	_, err = h.engine.Approve(ctx, out.Entry.ID, "rita", "", "")
	assert.ErrorIs(t, err, audit.ErrReviewPrecondition)

	marked, err := h.engine.MarkForReview(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.True(t, marked.RequiresReview)

	notes := h.notes.all()
	require.Len(t, notes, 2)
	assert.True(t, notes[1].RequiresReview)
	assert.Equal(t, "alice", notes[1].Actor.ID)

	_, err = h.engine.Approve(ctx, out.Entry.ID, "rita", "ok", audit.DecisionWarn)
	assert.NoError(t, err)

	_, err = h.engine.MarkForReview(ctx, "missing")
	assert.Equal(t, guard.CategoryNotFound, guard.Classify(err).Category)
}

func TestBulkApprove_SkipsEntriesNotPending(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"A123456789", "B223456789", "0912345678"} {
		out, err := h.engine.Check(ctx, guard.CheckInput{Content: content, Actor: alice, Scope: apollo()})
		require.NoError(t, err)
		ids = append(ids, out.Entry.ID)
	}

	res := h.engine.BulkApprove(ctx, append(ids, "missing"), "rita", "batch", "")
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failures, 2)
	assert.True(t, res.Failures[0].Skipped)
	assert.False(t, res.Failures[1].Skipped)

	stats, err := h.engine.ReviewStatistics(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus[audit.StatusApproved])
}

func TestStatistics(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	for _, content := range []string{"A123456789", "0912345678", "0987654321", "hello"} {
		_, err := h.engine.Check(ctx, guard.CheckInput{Content: content, Actor: alice, Scope: apollo()})
		require.NoError(t, err)
	}

	stats, err := h.engine.Statistics(ctx, audit.Filter{ProjectID: "apollo"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 2, stats.Warnings)
}

func TestCleanup_PurgesExpiredEntries(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	h.clock.Set(base.AddDate(0, 0, -1100))
	old, err := h.engine.Check(ctx, guard.CheckInput{Content: "0912345678", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	keptHigh, err := h.engine.Check(ctx, guard.CheckInput{Content: "A123456789", Actor: alice, Scope: apollo()})
	require.NoError(t, err)
	h.clock.Set(base)

	report := h.engine.Cleanup(ctx)
	assert.False(t, report.HasErrors())
	assert.Equal(t, 1, report.Total())

	_, err = h.engine.Get(ctx, old.Entry.ID)
	assert.ErrorIs(t, err, audit.ErrNotFound)
	_, err = h.engine.Get(ctx, keptHigh.Entry.ID)
	assert.NoError(t, err)

	rep, err := h.engine.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalCount)

	exp, err := h.engine.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, exp.Entries, 1)
}

func TestCheckAttachment(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	out, err := h.engine.CheckAttachment(ctx, "customers.txt", []byte("id A123456789"), alice, extensions.Scope{Project: "apollo"})
	require.NoError(t, err)
	assert.True(t, out.Blocked())
	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.OpBlockedSubmission, out.Entry.OperationType)
	assert.Equal(t, audit.ContentAttachment, out.Entry.ContentType)
	assert.Equal(t, "txt", out.Entry.FileType)
	assert.Equal(t, int64(13), out.Entry.FileSize)

	out, err = h.engine.CheckAttachment(ctx, "phones.csv", []byte("name,phone\nbob,0912345678"), alice, extensions.Scope{Project: "apollo"})
	require.NoError(t, err)
	require.NotNil(t, out.Entry)
	assert.Equal(t, audit.OpAttachmentScan, out.Entry.OperationType)

	_, err = h.engine.CheckAttachment(ctx, "setup.exe", []byte("MZ"), alice, extensions.Scope{})
	assert.ErrorIs(t, err, attachments.ErrUnsupportedFormat)
	assert.Equal(t, guard.CategoryFileFormat, guard.Classify(err).Category)
}

func TestCheckAttachment_Disabled(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.Attachments.Enabled = false
	h := newHarness(t, cfg, extensions.ServiceOptions{})

	_, err := h.engine.CheckAttachment(context.Background(), "a.txt", []byte("x"), alice, extensions.Scope{})
	assert.ErrorIs(t, err, guard.ErrAttachmentsDisabled)

	_, err = h.engine.CheckAttachments(context.Background(), nil, alice, extensions.Scope{})
	assert.ErrorIs(t, err, guard.ErrAttachmentsDisabled)
}

func TestCheckAttachments_PerFileOutcome(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})

	outs, err := h.engine.CheckAttachments(context.Background(), []attachments.File{
		{Name: "a.txt", Data: []byte("A123456789")},
		{Name: "b.txt", Data: []byte("ab\x00cd")},
		{Name: "c.md", Data: []byte("nothing")},
	}, alice, extensions.Scope{Project: "apollo"})
	require.NoError(t, err)
	require.Len(t, outs, 3)

	assert.True(t, outs[0].Blocked())
	assert.NotNil(t, outs[0].Entry)
	assert.ErrorIs(t, outs[1].Err, attachments.ErrFileCorrupted)
	assert.NoError(t, outs[2].Err)
	assert.Nil(t, outs[2].Entry)
}

func TestRules_ToggleAndReload(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	ctx := context.Background()

	catalog, err := h.engine.Rules()
	require.NoError(t, err)
	assert.NotEmpty(t, catalog)

	require.NoError(t, h.engine.SetRuleEnabled(ctx, "taiwan_id", false))
	assert.False(t, h.engine.Scan(ctx, "A123456789").Detected)

	err = h.engine.SetRuleEnabled(ctx, "no_such_rule", true)
	assert.Equal(t, guard.CategoryNotFound, guard.Classify(err).Category)

	assert.NoError(t, h.engine.Reload(ctx))
}

func TestCacheHealth(t *testing.T) {
	h := newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{})
	health := h.engine.CacheHealth(context.Background())
	assert.Equal(t, "none", health.Backend)
	assert.True(t, health.Healthy)

	c, err := cache.New(cache.DefaultConfig(), logging.Discard())
	require.NoError(t, err)
	h = newHarness(t, guard.DefaultConfig(), extensions.ServiceOptions{}, guard.WithCache(c))
	h.engine.Scan(context.Background(), "A123456789")

	health = h.engine.CacheHealth(context.Background())
	assert.Equal(t, "memory", health.Backend)
	assert.True(t, health.Healthy)
	assert.Equal(t, int64(1), health.Total)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := guard.New(guard.DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestNew_RejectsInvalidRetentionPolicy(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.Retention.HighDays = 0
	_, err := guard.New(cfg, audit.NewMemoryStore(), guard.WithLogger(logging.Discard()))
	assert.Equal(t, guard.CategoryValidation, guard.Classify(err).Category)
}
