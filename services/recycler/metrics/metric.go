// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics publishes named instance metrics on a schedule.
//
// # Description
//
// The package has three layers:
//
//   - Metric: a named value source, read once per tick.
//   - Publisher: reads every registered Metric and hands each value to an
//     Exporter, counting failures per metric name in a TagCounterMap.
//   - Scheduler: runs a Sink (usually the Publisher) at a fixed interval,
//     starting immediately, with an enable flag that can be flipped at any
//     time without stopping the schedule.
//
// # Thread Safety
//
// Every exported type is safe for concurrent use.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Interfaces
// =============================================================================

// Metric is a named numeric value read once per publish cycle.
type Metric interface {
	// Name is the metric name before any publisher suffix is applied.
	Name() string

	// Value reads the current value. A returned error is counted as a
	// publish failure for this metric.
	Value(ctx context.Context) (float64, error)
}

// Sample is one metric value ready for export.
type Sample struct {
	Name      string
	Namespace string
	Value     float64
	Time      time.Time
}

// Exporter sends one sample to a metrics backend.
//
// Implementations live in the exporters package.
type Exporter interface {
	Export(ctx context.Context, s Sample) error
}

// Sink is the operation the Scheduler runs on every enabled tick.
type Sink interface {
	Publish(ctx context.Context) error
}

// =============================================================================
// Function Adapters
// =============================================================================

// funcMetric adapts a function to Metric.
type funcMetric struct {
	name string
	fn   func(ctx context.Context) (float64, error)
}

// NewMetric returns a Metric named name whose value is produced by fn.
//
// # Examples
//
//	queueDepth := metrics.NewMetric("queue_depth", func(ctx context.Context) (float64, error) {
//	    return float64(q.Len()), nil
//	})
func NewMetric(name string, fn func(ctx context.Context) (float64, error)) Metric {
	return &funcMetric{name: name, fn: fn}
}

func (m *funcMetric) Name() string { return m.name }

func (m *funcMetric) Value(ctx context.Context) (float64, error) {
	return m.fn(ctx)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context) error

// Publish calls f(ctx).
func (f SinkFunc) Publish(ctx context.Context) error {
	return f(ctx)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, s Sample) error

// Export calls f(ctx, s).
func (f ExporterFunc) Export(ctx context.Context, s Sample) error {
	return f(ctx, s)
}

// =============================================================================
// Errors
// =============================================================================

// ErrNoExporter is returned by NewPublisher when no exporter is supplied.
var ErrNoExporter = errors.New("metrics: exporter is required")

// PublishError reports that one metric could not be read or exported.
//
// Publisher.Publish joins one PublishError per failed metric with
// errors.Join, so callers can use errors.As to inspect individual failures.
type PublishError struct {
	// Metric is the published (suffixed) metric name.
	Metric string

	// Err is the read or export error.
	Err error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("publish metric %q: %v", e.Metric, e.Err)
}

// Unwrap returns the underlying error.
func (e *PublishError) Unwrap() error {
	return e.Err
}
