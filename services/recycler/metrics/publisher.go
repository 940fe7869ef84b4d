// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRecycler/pkg/validation"
)

// FailureTag is the tag name of the publish failure counters.
const FailureTag = "metric"

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Namespace groups the published metrics in the backend.
	Namespace string

	// Suffix is appended to every metric name before export.
	Suffix string

	// MaxFailureTags bounds the number of distinct metric names tracked by
	// the failure counters. Zero means unbounded.
	MaxFailureTags int

	// Now returns the sample timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Publisher reads registered metrics and exports them one at a time.
//
// # Description
//
// Publisher implements Sink. A failure to read or export one metric is
// logged, counted under that metric's published name, and does not stop
// the remaining metrics in the same cycle.
//
// # Thread Safety
//
// Register and Publish may be called concurrently.
type Publisher struct {
	exporter  Exporter
	namespace string
	suffix    string
	now       func() time.Time

	mu      sync.RWMutex
	metrics []Metric

	failures *TagCounterMap[string]
}

// NewPublisher creates a Publisher that sends samples to exporter.
//
// # Outputs
//
//   - *Publisher: Ready for Register and Publish.
//   - error: ErrNoExporter when exporter is nil, or a validation error
//     for the namespace or a published metric name.
func NewPublisher(exporter Exporter, cfg PublisherConfig, ms ...Metric) (*Publisher, error) {
	if exporter == nil {
		return nil, ErrNoExporter
	}
	if cfg.Namespace != "" {
		if err := validation.ValidateMetricName(cfg.Namespace); err != nil {
			return nil, fmt.Errorf("namespace: %w", err)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &Publisher{
		exporter:  exporter,
		namespace: cfg.Namespace,
		suffix:    cfg.Suffix,
		now:       now,
		failures:  NewTagCounterMap[string](FailureTag, cfg.MaxFailureTags),
	}
	if err := p.Register(ms...); err != nil {
		return nil, err
	}
	return p, nil
}

// Register adds metrics to be published from the next cycle on. Nothing
// is added when any published name (name plus suffix) is invalid.
func (p *Publisher) Register(ms ...Metric) error {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name() + p.suffix
	}
	if err := validation.ValidateMetricNames(names); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = append(p.metrics, ms...)
	return nil
}

// Namespace returns the configured namespace.
func (p *Publisher) Namespace() string {
	return p.namespace
}

// Publish reads and exports every registered metric once.
//
// # Outputs
//
//   - error: nil when every metric was exported, otherwise the errors.Join
//     of one *PublishError per failed metric.
func (p *Publisher) Publish(ctx context.Context) error {
	p.mu.RLock()
	ms := append([]Metric(nil), p.metrics...)
	p.mu.RUnlock()

	var errs []error
	for _, m := range ms {
		if err := p.publishOne(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FailedPublishing returns a snapshot of the failure counters keyed by
// published metric name.
func (p *Publisher) FailedPublishing() map[string]int64 {
	return p.failures.Snapshot()
}

// Failures exposes the failure counter map, for example to a Prometheus
// collector.
func (p *Publisher) Failures() *TagCounterMap[string] {
	return p.failures
}

func (p *Publisher) publishOne(ctx context.Context, m Metric) error {
	name := m.Name() + p.suffix

	value, err := m.Value(ctx)
	if err == nil {
		err = p.exporter.Export(ctx, Sample{
			Name:      name,
			Namespace: p.namespace,
			Value:     value,
			Time:      p.now(),
		})
	}
	if err != nil {
		p.failures.Increment(name)
		slog.Warn("metric publish failed", "metric", name, "namespace", p.namespace, "error", err)
		return &PublishError{Metric: name, Err: err}
	}

	slog.Debug("metric published", "metric", name, "value", value)
	return nil
}
