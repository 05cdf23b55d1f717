// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/DataGuard/pkg/logging"
	"github.com/AleutianAI/DataGuard/services/audit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects, optionally migrates, and returns the store.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	db, err := Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := RunMigrations(ctx, db, logger); err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
	}
	return New(db), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return audit.ErrNotFound
	case errors.Is(err, audit.ErrNotFound), errors.Is(err, audit.ErrStore),
		errors.Is(err, audit.ErrReviewPrecondition), errors.Is(err, audit.ErrInvalidEntry):
		return err
	default:
		return fmt.Errorf("%w: %w", audit.ErrStore, err)
	}
}

func (s *Store) Create(ctx context.Context, e audit.Entry) error {
	rec, err := toModel(e)
	if err != nil {
		return storeErr(err)
	}
	err = s.db.WithContext(ctx).Create(&rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: duplicate id %s", audit.ErrStore, e.ID)
	}
	return storeErr(err)
}

func (s *Store) Get(ctx context.Context, id string) (audit.Entry, error) {
	var rec entryModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return audit.Entry{}, fmt.Errorf("%w: %s", audit.ErrNotFound, id)
		}
		return audit.Entry{}, storeErr(err)
	}
	e, err := toEntry(rec)
	return e, storeErr(err)
}

// Update locks the row for the duration of fn.
func (s *Store) Update(ctx context.Context, id string, fn func(*audit.Entry) error) (audit.Entry, error) {
	var out audit.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec entryModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", audit.ErrNotFound, id)
			}
			return err
		}
		e, err := toEntry(rec)
		if err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
		if e.ID != id {
			return fmt.Errorf("%w: update changed entry id", audit.ErrInvalidEntry)
		}
		next, err := toModel(e)
		if err != nil {
			return err
		}
		out = e
		return tx.Save(&next).Error
	})
	if err != nil {
		return audit.Entry{}, storeErr(err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&entryModel{})
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", audit.ErrNotFound, id)
	}
	return nil
}

// applyFilter adds the WHERE clauses for f. Pagination is left to the
// caller.
func applyFilter(q *gorm.DB, f audit.Filter) *gorm.DB {
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.RiskLevel != "" {
		q = q.Where("risk_level = ?", string(f.RiskLevel))
	}
	if f.OperationType != "" {
		q = q.Where("operation_type = ?", string(f.OperationType))
	}
	if f.ReviewStatus != "" {
		q = q.Where("review_status = ?", string(f.ReviewStatus))
	}
	if f.RequiresReview != nil {
		q = q.Where("requires_review = ?", *f.RequiresReview)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To.UTC())
	}
	if f.Search != "" {
		pattern := "%" + likeEscaper.Replace(f.Search) + "%"
		q = q.Where("(preview ILIKE ? OR rule_types ILIKE ? OR review_comment ILIKE ?)", pattern, pattern, pattern)
	}
	return q
}

// applyPurge adds the WHERE clauses for p.
func applyPurge(q *gorm.DB, p audit.Purge) *gorm.DB {
	q = q.Where("created_at < ?", p.Before.UTC())
	if p.RiskLevel != "" {
		q = q.Where("risk_level = ?", string(p.RiskLevel))
	}
	if p.OperationType != "" {
		q = q.Where("operation_type = ?", string(p.OperationType))
	}
	if p.KeepPendingReview {
		q = q.Where("NOT (requires_review AND review_status = ?)", string(audit.StatusPending))
	}
	return q
}

func (s *Store) Query(ctx context.Context, f audit.Filter) (audit.Page, error) {
	page := audit.Page{Offset: f.Offset, Limit: f.Limit, Entries: []audit.Entry{}}

	var total int64
	if err := applyFilter(s.db.WithContext(ctx).Model(&entryModel{}), f).Count(&total).Error; err != nil {
		return audit.Page{}, storeErr(err)
	}
	page.Total = int(total)

	q := applyFilter(s.db.WithContext(ctx), f).Order("created_at DESC").Order("id DESC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []entryModel
	if err := q.Find(&rows).Error; err != nil {
		return audit.Page{}, storeErr(err)
	}
	for _, row := range rows {
		e, err := toEntry(row)
		if err != nil {
			return audit.Page{}, storeErr(err)
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func (s *Store) DeleteWhere(ctx context.Context, p audit.Purge) (int, error) {
	res := applyPurge(s.db.WithContext(ctx), p).Delete(&entryModel{})
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}
	return int(res.RowsAffected), nil
}

var _ audit.Store = (*Store)(nil)
