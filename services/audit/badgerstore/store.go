// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/dgraph-io/badger/v4"
)

var (
	entryPrefix = []byte("entry/")
	timePrefix  = []byte("ts/")
)

// purgeBatchSize bounds the deletes committed per transaction.
const purgeBatchSize = 500

func entryKey(id string) []byte {
	return append(append([]byte{}, entryPrefix...), id...)
}

// timeKey is ts/<8-byte big-endian unix nanos>/<id>, so lexical order is
// creation order.
func timeKey(e *audit.Entry) []byte {
	k := make([]byte, 0, len(timePrefix)+9+len(e.ID))
	k = append(k, timePrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(e.CreatedAt.UnixNano()))
	k = append(k, '/')
	return append(k, e.ID...)
}

// Store implements audit.Store on BadgerDB.
type Store struct {
	db         *badger.DB
	gc         *gcRunner
	maxRetries int
}

// Open opens (or creates) the audit database described by cfg.
//
// Description:
//
//	Opens BadgerDB and, for persistent databases with a GC interval,
//	starts the value log GC runner. Close stops both.
//
// Outputs:
//
//	*Store - Ready for use. Safe for concurrent use.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:         db,
		maxRetries: max(cfg.MaxUpdateRetries, 1),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create audit GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, audit.ErrNotFound) || errors.Is(err, audit.ErrStore) ||
		errors.Is(err, audit.ErrReviewPrecondition) || errors.Is(err, audit.ErrInvalidEntry) {
		return err
	}
	return fmt.Errorf("%w: %w", audit.ErrStore, err)
}

func getEntry(txn *badger.Txn, id string) (audit.Entry, error) {
	item, err := txn.Get(entryKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return audit.Entry{}, fmt.Errorf("%w: %s", audit.ErrNotFound, id)
	}
	if err != nil {
		return audit.Entry{}, err
	}
	var e audit.Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err
}

func putEntry(txn *badger.Txn, e *audit.Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return txn.Set(entryKey(e.ID), val)
}

func (s *Store) Create(ctx context.Context, e audit.Entry) error {
	return storeErr(withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(e.ID)); err == nil {
			return fmt.Errorf("%w: duplicate id %s", audit.ErrStore, e.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putEntry(txn, &e); err != nil {
			return err
		}
		return txn.Set(timeKey(&e), nil)
	}))
}

func (s *Store) Get(ctx context.Context, id string) (audit.Entry, error) {
	var e audit.Entry
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		var err error
		e, err = getEntry(txn, id)
		return err
	})
	return e, storeErr(err)
}

// Update applies fn under optimistic concurrency. A commit that conflicts
// with a concurrent writer is retried against the fresh value, so fn sees
// the winner's state and a second reviewer fails its precondition.
func (s *Store) Update(ctx context.Context, id string, fn func(*audit.Entry) error) (audit.Entry, error) {
	var out audit.Entry
	for range s.maxRetries {
		err := withTxn(ctx, s.db, func(txn *badger.Txn) error {
			e, err := getEntry(txn, id)
			if err != nil {
				return err
			}
			if err := fn(&e); err != nil {
				return err
			}
			if e.ID != id {
				return fmt.Errorf("%w: update changed entry id", audit.ErrInvalidEntry)
			}
			out = e
			return putEntry(txn, &e)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return audit.Entry{}, storeErr(err)
		}
		return out, nil
	}
	return audit.Entry{}, fmt.Errorf("%w: update of %s kept conflicting", audit.ErrStore, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return storeErr(withTxn(ctx, s.db, func(txn *badger.Txn) error {
		e, err := getEntry(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(entryKey(id)); err != nil {
			return err
		}
		return txn.Delete(timeKey(&e))
	}))
}

// Query scans every entry. Audit volumes per node are modest and filters
// are ad hoc, so there is no secondary index beyond creation time.
func (s *Store) Query(ctx context.Context, f audit.Filter) (audit.Page, error) {
	var matched []audit.Entry
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e audit.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if f.Matches(&e) {
				matched = append(matched, e)
			}
		}
		return nil
	})
	if err != nil {
		return audit.Page{}, storeErr(err)
	}
	audit.SortNewestFirst(matched)
	return audit.Paginate(matched, f), nil
}

// DeleteWhere walks the time index up to p.Before and deletes matches in
// batches. Each candidate is re-read inside the deleting transaction, so an
// entry flagged for review after the scan is still spared.
func (s *Store) DeleteWhere(ctx context.Context, p audit.Purge) (int, error) {
	var candidates []string
	cutoff := binary.BigEndian.AppendUint64(append([]byte{}, timePrefix...), uint64(p.Before.UnixNano()))

	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = timePrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if bytes.Compare(key, cutoff) >= 0 {
				break
			}
			rest := string(key[len(timePrefix)+8:])
			candidates = append(candidates, strings.TrimPrefix(rest, "/"))
		}
		return nil
	})
	if err != nil {
		return 0, storeErr(err)
	}

	deleted := 0
	for start := 0; start < len(candidates); start += purgeBatchSize {
		batch := candidates[start:min(start+purgeBatchSize, len(candidates))]
		n, err := s.purgeBatch(ctx, batch, p)
		if err != nil {
			return deleted, storeErr(err)
		}
		deleted += n
	}
	return deleted, nil
}

func (s *Store) purgeBatch(ctx context.Context, batch []string, p audit.Purge) (int, error) {
	n := 0
	for range s.maxRetries {
		err := withTxn(ctx, s.db, func(txn *badger.Txn) error {
			n = 0
			for _, id := range batch {
				e, err := getEntry(txn, id)
				if errors.Is(err, audit.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if !p.Matches(&e) {
					continue
				}
				if err := txn.Delete(entryKey(id)); err != nil {
					return err
				}
				if err := txn.Delete(timeKey(&e)); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return n, err
	}
	return 0, fmt.Errorf("%w: purge batch kept conflicting", audit.ErrStore)
}

var _ audit.Store = (*Store)(nil)
