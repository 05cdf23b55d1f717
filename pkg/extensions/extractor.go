// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrExtractionUnsupported is returned by a TextExtractor that cannot
// handle the given document.
var ErrExtractionUnsupported = errors.New("text extraction not supported")

// TextExtractor converts a document into plain text for scanning.
//
// DataGuard sniffs the format itself and only calls the extractor for
// formats it cannot read directly (office documents, PDF). The filename is
// passed for extension-based routing only.
//
// Implementations must be safe for concurrent use and should honour ctx
// cancellation; large documents are the slowest part of an attachment scan.
//
// Returns:
//   - string: The extracted text
//   - error: ErrExtractionUnsupported (or wrapped) for unknown formats,
//     any other error for a document that could not be read
type TextExtractor interface {
	Extract(ctx context.Context, filename, mimeType string, data []byte) (string, error)
}

// NopTextExtractor supports nothing.
type NopTextExtractor struct{}

// Extract always returns ErrExtractionUnsupported.
func (NopTextExtractor) Extract(context.Context, string, string, []byte) (string, error) {
	return "", ErrExtractionUnsupported
}

// TextExtractorFunc adapts a function to TextExtractor.
type TextExtractorFunc func(ctx context.Context, filename, mimeType string, data []byte) (string, error)

func (f TextExtractorFunc) Extract(ctx context.Context, filename, mimeType string, data []byte) (string, error) {
	return f(ctx, filename, mimeType, data)
}

var (
	_ TextExtractor = NopTextExtractor{}
	_ TextExtractor = TextExtractorFunc(nil)
)
