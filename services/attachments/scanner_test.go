// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/AleutianAI/DataGuard/pkg/extensions"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

func newScanner(t *testing.T, cfg Config, extractor extensions.TextExtractor) *Scanner {
	t.Helper()
	reg, err := pe.NewRegistry(pe.RegistryConfig{})
	require.NoError(t, err)
	return NewScanner(cfg, pe.NewScanner(reg, pe.DefaultScannerConfig()), extractor, nil)
}

func TestScan_TextFile(t *testing.T) {
	s := newScanner(t, DefaultConfig(), nil)

	res, err := s.Scan(context.Background(), "notes.TXT", []byte("customer id A123456789"))
	require.NoError(t, err)
	assert.Equal(t, "txt", res.Extension)
	assert.Equal(t, int64(22), res.Size)
	assert.True(t, res.Scan.Detected)
	assert.Equal(t, pe.RiskHigh, res.Scan.Level)
	assert.Equal(t, []string{"id_card"}, res.Scan.RuleTypes())
}

func TestScan_StripsBOM(t *testing.T) {
	s := newScanner(t, DefaultConfig(), nil)
	data := append([]byte{0xEF, 0xBB, 0xBF}, "call 0912345678"...)

	res, err := s.Scan(context.Background(), "log.csv", data)
	require.NoError(t, err)
	assert.Equal(t, pe.RiskMedium, res.Scan.Level)
}

func TestScan_CleanAndEmptyText(t *testing.T) {
	s := newScanner(t, DefaultConfig(), nil)

	res, err := s.Scan(context.Background(), "readme.md", []byte("hello world"))
	require.NoError(t, err)
	assert.False(t, res.Scan.Detected)

	res, err = s.Scan(context.Background(), "empty.txt", nil)
	require.NoError(t, err)
	assert.False(t, res.Scan.Detected)
}

func TestScan_Rejections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 64
	s := newScanner(t, cfg, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		file string
		data []byte
		want error
	}{
		{"too large", "big.txt", bytes.Repeat([]byte("a"), 65), ErrFileTooLarge},
		{"unsupported extension", "tool.exe", []byte("MZ"), ErrUnsupportedFormat},
		{"no extension", "Makefile", []byte("all:"), ErrUnsupportedFormat},
		{"binary in text file", "data.txt", []byte("ab\x00cd"), ErrFileCorrupted},
		{"invalid utf8", "data.log", []byte{0xff, 0xfe, 0xfd}, ErrFileCorrupted},
		{"text disguised as pdf", "report.pdf", []byte("just text"), ErrFileCorrupted},
		{"pdf disguised as text", "notes.txt", pdfHeader, ErrFileCorrupted},
		{"pdf without extractor", "report.pdf", pdfHeader, ErrUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Scan(ctx, tc.file, tc.data)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestScan_ExtractedDocument(t *testing.T) {
	var gotMIME string
	extractor := extensions.TextExtractorFunc(func(_ context.Context, _, mime string, _ []byte) (string, error) {
		gotMIME = mime
		return "card 4111-1111-1111-1111", nil
	})
	s := newScanner(t, DefaultConfig(), extractor)

	res, err := s.Scan(context.Background(), "invoice.pdf", pdfHeader)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", gotMIME)
	assert.Equal(t, "application/pdf", res.MIMEType)
	assert.Equal(t, pe.RiskHigh, res.Scan.Level)
	assert.Contains(t, res.Scan.RuleTypes(), "credit_card")
}

func TestScan_ExtractorFailureIsCorruption(t *testing.T) {
	extractor := extensions.TextExtractorFunc(func(context.Context, string, string, []byte) (string, error) {
		return "", errors.New("xref table broken")
	})
	s := newScanner(t, DefaultConfig(), extractor)

	_, err := s.Scan(context.Background(), "invoice.pdf", pdfHeader)
	assert.ErrorIs(t, err, ErrFileCorrupted)
	assert.Contains(t, err.Error(), "xref table broken")
}

func TestScanBatch(t *testing.T) {
	s := newScanner(t, DefaultConfig(), nil)
	files := []File{
		{Name: "a.txt", Data: []byte("A123456789")},
		{Name: "b.exe", Data: []byte("MZ")},
		{Name: "c.md", Data: []byte("nothing here")},
	}

	results, err := s.ScanBatch(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.txt", results[0].Filename)
	assert.True(t, results[0].Scan.Detected)
	assert.NoError(t, results[0].Err)

	assert.ErrorIs(t, results[1].Err, ErrUnsupportedFormat)
	assert.NotEmpty(t, results[1].Error)

	assert.False(t, results[2].Scan.Detected)
}

func TestScanBatch_TooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBatch = 2
	s := newScanner(t, cfg, nil)

	files := make([]File, 3)
	for i := range files {
		files[i] = File{Name: fmt.Sprintf("%d.txt", i)}
	}
	_, err := s.ScanBatch(context.Background(), files)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestScanBatch_Cancelled(t *testing.T) {
	s := newScanner(t, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ScanBatch(ctx, []File{{Name: "a.txt", Data: []byte("x")}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "docx", Extension("Report.Final.DOCX"))
	assert.Equal(t, "", Extension("README"))
}
