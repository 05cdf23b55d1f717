// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audittest holds a behavioural suite every audit.Store must pass.
package audittest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Base is the reference creation time used by the suite.
var Base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewEntry builds a valid pending entry.
func NewEntry(id string, createdAt time.Time, level pe.RiskLevel, op audit.OperationType) audit.Entry {
	return audit.Entry{
		ID:            id,
		ActorID:       "alice",
		ProjectID:     "apollo",
		OperationType: op,
		ContentType:   audit.ContentIssue,
		RiskLevel:     level,
		RuleTypes:     []string{"email"},
		Preview:       "contact a***@corp.io",
		CreatedAt:     createdAt.UTC(),
		ReviewStatus:  audit.StatusPending,
	}
}

// RunStoreSuite exercises newStore against the Store contract. newStore must
// return an empty store on every call.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) audit.Store) {
	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := NewEntry("e1", Base, pe.RiskHigh, audit.OpBlockedSubmission)
		require.NoError(t, s.Create(ctx, e))

		got, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.RiskLevel, got.RiskLevel)
		assert.Equal(t, e.RuleTypes, got.RuleTypes)
		assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, audit.ErrNotFound)
	})

	t.Run("DuplicateCreate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := NewEntry("dup", Base, pe.RiskLow, audit.OpDetection)
		require.NoError(t, s.Create(ctx, e))
		assert.ErrorIs(t, s.Create(ctx, e), audit.ErrStore)
	})

	t.Run("UpdateAppliesAndAborts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewEntry("u1", Base, pe.RiskLow, audit.OpDetection)))

		got, err := s.Update(ctx, "u1", func(e *audit.Entry) error {
			e.RequiresReview = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, got.RequiresReview)

		boom := errors.New("boom")
		_, err = s.Update(ctx, "u1", func(e *audit.Entry) error {
			e.RequiresReview = false
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, stored.RequiresReview)

		_, err = s.Update(ctx, "missing", func(*audit.Entry) error { return nil })
		assert.ErrorIs(t, err, audit.ErrNotFound)
	})

	t.Run("ConcurrentUpdateIsAtomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := NewEntry("race", Base, pe.RiskHigh, audit.OpBlockedSubmission)
		e.RequiresReview = true
		require.NoError(t, s.Create(ctx, e))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "race", func(e *audit.Entry) error {
					if e.ReviewStatus != audit.StatusPending {
						return audit.ErrReviewPrecondition
					}
					e.ReviewStatus = audit.StatusApproved
					e.ReviewerID = fmt.Sprintf("r%d", i)
					return nil
				})
				if err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewEntry("d1", Base, pe.RiskLow, audit.OpDetection)))
		require.NoError(t, s.Delete(ctx, "d1"))
		assert.ErrorIs(t, s.Delete(ctx, "d1"), audit.ErrNotFound)
	})

	t.Run("QueryFiltersAndPaginates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range 5 {
			e := NewEntry(fmt.Sprintf("q%d", i), Base.Add(time.Duration(i)*time.Hour), pe.RiskMedium, audit.OpWarning)
			require.NoError(t, s.Create(ctx, e))
		}
		other := NewEntry("other", Base, pe.RiskHigh, audit.OpBlockedSubmission)
		other.ProjectID = "hermes"
		other.Preview = "token sk-****"
		require.NoError(t, s.Create(ctx, other))

		page, err := s.Query(ctx, audit.Filter{ProjectID: "apollo", Offset: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		require.Len(t, page.Entries, 2)
		assert.Equal(t, "q3", page.Entries[0].ID)
		assert.Equal(t, "q2", page.Entries[1].ID)

		page, err = s.Query(ctx, audit.Filter{RiskLevel: pe.RiskHigh})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "other", page.Entries[0].ID)

		page, err = s.Query(ctx, audit.Filter{Search: "SK-"})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		page, err = s.Query(ctx, audit.Filter{From: Base.Add(time.Hour), To: Base.Add(3 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)

		page, err = s.Query(ctx, audit.Filter{Offset: 100})
		require.NoError(t, err)
		assert.Empty(t, page.Entries)
		assert.Equal(t, 6, page.Total)
	})

	t.Run("DeleteWhere", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := NewEntry("old", Base.Add(-48*time.Hour), pe.RiskLow, audit.OpDetection)
		oldPending := NewEntry("old-pending", Base.Add(-48*time.Hour), pe.RiskLow, audit.OpDetection)
		oldPending.RequiresReview = true
		oldHigh := NewEntry("old-high", Base.Add(-48*time.Hour), pe.RiskHigh, audit.OpDetection)
		fresh := NewEntry("fresh", Base, pe.RiskLow, audit.OpDetection)
		for _, e := range []audit.Entry{old, oldPending, oldHigh, fresh} {
			require.NoError(t, s.Create(ctx, e))
		}

		n, err := s.DeleteWhere(ctx, audit.Purge{Before: Base, RiskLevel: pe.RiskLow, KeepPendingReview: true})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		page, err := s.Query(ctx, audit.Filter{})
		require.NoError(t, err)
		ids := make([]string, 0, len(page.Entries))
		for _, e := range page.Entries {
			ids = append(ids, e.ID)
		}
		assert.ElementsMatch(t, []string{"old-pending", "old-high", "fresh"}, ids)
	})
}
