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
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// GenesisHash is the PrevHash of the first journal record.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const journalFileMode = 0o600

// JournalRecord is one cleanup run in the journal.
//
// Records form a hash chain: EntryHash covers every other field including
// PrevHash, so removing or editing a past record breaks every later link.
type JournalRecord struct {
	Sequence      int64          `json:"sequence"`
	Timestamp     string         `json:"timestamp"`
	DeletedByTier map[string]int `json:"deleted_by_tier"`
	ErrorCount    int            `json:"error_count"`
	DurationMs    int64          `json:"duration_ms"`
	PrevHash      string         `json:"prev_hash"`
	EntryHash     string         `json:"entry_hash"`
}

// Journal appends cleanup runs to a tamper-evident JSON lines file. Audit
// entries are deleted for good, so the journal is the record that the
// deletion happened and how much it removed.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	sequence int64
	prevHash string
}

// OpenJournal opens or creates the journal at path and resumes its chain.
func OpenJournal(path string) (*Journal, error) {
	j := &Journal{path: path, prevHash: GenesisHash}
	if err := j.resume(); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, journalFileMode)
	if err != nil {
		return nil, fmt.Errorf("open retention journal: %w", err)
	}
	j.file = file
	return j, nil
}

func (j *Journal) resume() error {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read retention journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.Sequence == 0 {
			continue
		}
		j.sequence = rec.Sequence
		j.prevHash = rec.EntryHash
	}
	return scanner.Err()
}

func recordHash(rec JournalRecord) string {
	rec.EntryHash = ""
	raw, _ := json.Marshal(rec)
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Append writes one chained record for report.
func (j *Journal) Append(report CleanupReport) (JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := JournalRecord{
		Sequence:      j.sequence + 1,
		Timestamp:     report.EndTime.UTC().Format(time.RFC3339),
		DeletedByTier: report.DeletedByTier,
		ErrorCount:    len(report.Errors),
		DurationMs:    report.Duration().Milliseconds(),
		PrevHash:      j.prevHash,
	}
	rec.EntryHash = recordHash(rec)

	raw, err := json.Marshal(rec)
	if err != nil {
		return JournalRecord{}, fmt.Errorf("marshal journal record: %w", err)
	}
	if _, err := j.file.Write(append(raw, '\n')); err != nil {
		return JournalRecord{}, fmt.Errorf("write journal record: %w", err)
	}
	j.sequence = rec.Sequence
	j.prevHash = rec.EntryHash
	return rec, nil
}

// Verify walks the chain. It returns the sequence of the first broken
// record, or -1 when the chain is intact.
func (j *Journal) Verify() (bool, int64, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return false, -1, fmt.Errorf("open retention journal: %w", err)
	}
	defer f.Close()

	prev := GenesisHash
	var want int64 = 1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return false, want, nil
		}
		if rec.Sequence != want || rec.PrevHash != prev || recordHash(rec) != rec.EntryHash {
			return false, want, nil
		}
		prev = rec.EntryHash
		want++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("read retention journal: %w", err)
	}
	return true, -1, nil
}

// Close closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
