// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attachments scans uploaded files for sensitive data.
//
// Plain-text formats are scanned directly. Office documents and PDFs are
// handed to the configured extensions.TextExtractor first. The declared
// extension must agree with the sniffed content: a ".txt" that is really a
// zip, or a ".pdf" with no PDF header, is reported as corrupted.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	"github.com/AleutianAI/DataGuard/pkg/logging"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/h2non/filetype"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors.
var (
	ErrFileTooLarge      = errors.New("file exceeds maximum size")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileCorrupted     = errors.New("file is corrupted or does not match its extension")
	ErrBatchTooLarge     = errors.New("too many files in batch")
)

// sniffLen is the header length filetype needs.
const sniffLen = 261

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textExtensions are scanned without extraction.
var textExtensions = []string{"txt", "log", "md", "json", "xml", "csv"}

// Config controls attachment scanning.
type Config struct {
	Enabled      bool     `yaml:"enabled"`
	MaxSizeBytes int64    `yaml:"max_size_bytes"`
	Extensions   []string `yaml:"extensions"`
	// MaxBatch caps the files accepted by ScanBatch.
	MaxBatch int `yaml:"max_batch"`
	// Concurrency bounds parallel scans within a batch.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns a 50 MB limit and the standard extension list.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxSizeBytes: 50 << 20,
		Extensions:   []string{"txt", "log", "md", "json", "xml", "csv", "doc", "docx", "xls", "xlsx", "pdf"},
		MaxBatch:     100,
		Concurrency:  8,
	}
}

// File is one attachment.
type File struct {
	Name string
	Data []byte
}

// Result is the outcome for one file.
type Result struct {
	Filename  string    `json:"filename"`
	Extension string    `json:"extension"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Scan      pe.Result `json:"scan"`
	// Err is set by ScanBatch for files that could not be scanned.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Scanner scans attachments. Safe for concurrent use.
type Scanner struct {
	cfg       Config
	scanner   *pe.Scanner
	extractor extensions.TextExtractor
	logger    *logging.Logger
	allowed   map[string]bool
}

// NewScanner builds an attachment scanner over a content scanner.
func NewScanner(cfg Config, scanner *pe.Scanner, extractor extensions.TextExtractor, logger *logging.Logger) *Scanner {
	if extractor == nil {
		extractor = extensions.NopTextExtractor{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	allowed := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Scanner{cfg: cfg, scanner: scanner, extractor: extractor, logger: logger, allowed: allowed}
}

// Enabled reports whether attachment scanning is on.
func (s *Scanner) Enabled() bool {
	return s.cfg.Enabled
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Scan checks one file. The returned error is one of the sentinels,
// possibly wrapped.
func (s *Scanner) Scan(ctx context.Context, name string, data []byte) (Result, error) {
	ext := Extension(name)
	res := Result{Filename: name, Extension: ext, Size: int64(len(data))}

	if s.cfg.MaxSizeBytes > 0 && res.Size > s.cfg.MaxSizeBytes {
		return res, fmt.Errorf("%w: %.2f MB > %.2f MB", ErrFileTooLarge,
			float64(res.Size)/(1<<20), float64(s.cfg.MaxSizeBytes)/(1<<20))
	}
	if !s.allowed[ext] {
		return res, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	res.MIMEType = sniff(data)
	text, err := s.text(ctx, name, ext, res.MIMEType, data)
	if err != nil {
		s.logger.Warn("attachment could not be read", "file_type", ext, "size", res.Size, "error", err)
		return res, err
	}

	res.Scan = s.scanner.Scan(ctx, text)
	if res.Scan.Detected {
		s.logger.Info("sensitive data detected in attachment",
			"file_type", ext,
			"size", res.Size,
			"risk_level", res.Scan.Level,
			"rules", res.Scan.RuleTypes(),
		)
	}
	return res, nil
}

// sniff returns the detected MIME type or "" when unknown.
func sniff(data []byte) string {
	kind, err := filetype.Match(data[:min(len(data), sniffLen)])
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

func (s *Scanner) text(ctx context.Context, name, ext, mime string, data []byte) (string, error) {
	if slices.Contains(textExtensions, ext) {
		if mime != "" && !strings.HasPrefix(mime, "text/") {
			return "", fmt.Errorf("%w: .%s holds %s", ErrFileCorrupted, ext, mime)
		}
		data = bytes.TrimPrefix(data, utf8BOM)
		if !looksLikeText(data) {
			return "", fmt.Errorf("%w: .%s is not valid UTF-8 text", ErrFileCorrupted, ext)
		}
		return string(data), nil
	}

	if len(data) == 0 || !matchesFormat(ext, mime) {
		return "", fmt.Errorf("%w: .%s has unexpected content type %q", ErrFileCorrupted, ext, mime)
	}
	text, err := s.extractor.Extract(ctx, name, mime, data)
	switch {
	case errors.Is(err, extensions.ErrExtractionUnsupported):
		return "", fmt.Errorf("%w: no extractor for .%s: %w", ErrUnsupportedFormat, ext, err)
	case err != nil:
		return "", fmt.Errorf("%w: extract .%s: %w", ErrFileCorrupted, ext, err)
	}
	return text, nil
}

// matchesFormat checks the sniffed type against the declared extension.
// Legacy OLE documents are sniffed as either Word or Excel depending on the
// first stream, so doc and xls accept both.
func matchesFormat(ext, mime string) bool {
	switch ext {
	case "pdf":
		return mime == "application/pdf"
	case "docx", "xlsx":
		return strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument.") || mime == "application/zip"
	case "doc", "xls":
		return mime == "application/msword" || mime == "application/vnd.ms-excel" || mime == "application/x-ole-storage"
	}
	return mime != ""
}

// looksLikeText rejects invalid UTF-8, NUL bytes and control-heavy input.
func looksLikeText(sample []byte) bool {
	if len(sample) == 0 {
		return true
	}
	if !utf8.Valid(sample) {
		return false
	}
	control := 0
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0D && b < 0x20) {
			control++
		}
	}
	return control <= len(sample)/10
}

// ScanBatch scans files in parallel. Per-file failures are reported in
// Result.Err; the batch itself only fails when it is too large or ctx is
// cancelled.
func (s *Scanner) ScanBatch(ctx context.Context, files []File) ([]Result, error) {
	if s.cfg.MaxBatch > 0 && len(files) > s.cfg.MaxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(files), s.cfg.MaxBatch)
	}
	results := make([]Result, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := s.Scan(gCtx, f.Name, f.Data)
			if err != nil {
				res.Err = err
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
