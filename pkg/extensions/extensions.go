// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the collaborators DataGuard consumes but does
// not implement itself.
//
// The engine works out of the box with the defaults in this package. Hosts
// that embed the engine in a larger system (issue tracker, wiki, chat)
// replace them with their own implementations and inject them through
// ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Override capability and administrator checks (Authorizer)
//   - extractor.go: Plain-text extraction for documents (TextExtractor)
//   - notifier.go: Fire-and-forget alerts for recorded events (Notifier)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuthorizer(extensions.NewStaticAuthorizer([]string{"alice"}, nil)).
//	    WithNotifier(slackNotifier)
//	engine, err := guard.New(guard.DefaultConfig(), audit.NewMemoryStore(),
//	    guard.WithExtensions(opts),
//	    guard.WithLogger(logger))
//
// Notifiers are called with a deadline and a panic guard. Slow channels
// should still sit behind notify.Dispatcher so checks never wait on them.
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups all extension points for engine construction.
//
// All fields are optional; nil values are replaced with no-op defaults
// by Normalize.
type ServiceOptions struct {
	// Authorizer answers override and admin questions.
	// Default: NopAuthorizer (nobody is admin, nobody holds an override)
	Authorizer Authorizer

	// TextExtractor turns office and PDF documents into plain text.
	// Default: NopTextExtractor (every document is unsupported)
	TextExtractor TextExtractor

	// Notifier receives one call per recorded event.
	// Default: NopNotifier (discards everything)
	Notifier Notifier
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// With these defaults no actor can bypass a decision and documents that
// need extraction are reported as unsupported.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		Authorizer:    &NopAuthorizer{},
		TextExtractor: &NopTextExtractor{},
		Notifier:      &NopNotifier{},
	}
}

// Normalize returns a copy of opts with nil fields replaced by defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	def := DefaultOptions()
	if opts.Authorizer == nil {
		opts.Authorizer = def.Authorizer
	}
	if opts.TextExtractor == nil {
		opts.TextExtractor = def.TextExtractor
	}
	if opts.Notifier == nil {
		opts.Notifier = def.Notifier
	}
	return opts
}

// WithAuthorizer returns a copy of opts with the given Authorizer.
func (opts ServiceOptions) WithAuthorizer(a Authorizer) ServiceOptions {
	opts.Authorizer = a
	return opts
}

// WithTextExtractor returns a copy of opts with the given TextExtractor.
func (opts ServiceOptions) WithTextExtractor(e TextExtractor) ServiceOptions {
	opts.TextExtractor = e
	return opts
}

// WithNotifier returns a copy of opts with the given Notifier.
func (opts ServiceOptions) WithNotifier(n Notifier) ServiceOptions {
	opts.Notifier = n
	return opts
}
