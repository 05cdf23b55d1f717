// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("dataguard.cache")
	meter  = otel.Meter("dataguard.cache")
)

var (
	lookupsTotal metric.Int64Counter
	errorsTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		lookupsTotal, err = meter.Int64Counter(
			"dataguard_cache_lookups_total",
			metric.WithDescription("Result cache lookups by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		errorsTotal, err = meter.Int64Counter(
			"dataguard_cache_errors_total",
			metric.WithDescription("Cache backend failures treated as misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLookup(ctx context.Context, backend string, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	lookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("hit", hit),
	))
}

func recordError(ctx context.Context, backend, op string) {
	if err := initMetrics(); err != nil {
		return
	}
	errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
	))
}

func startLookupSpan(ctx context.Context, backend string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Cache.GetOrCompute",
		trace.WithAttributes(attribute.String("cache.backend", backend)),
	)
}

func setLookupSpanResult(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
}
