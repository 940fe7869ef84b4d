// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exporters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
)

// OTel records samples as OpenTelemetry gauges.
//
// # Description
//
// One Float64Gauge is created lazily per metric name and recorded with a
// "namespace" attribute. The meter provider behind the meter decides where
// the values go (Prometheus scrape, stdout, OTLP).
//
// # Thread Safety
//
// Safe for concurrent use.
type OTel struct {
	meter metric.Meter

	mu     sync.Mutex
	gauges map[string]metric.Float64Gauge
}

// NewOTel creates an exporter recording on meter.
func NewOTel(meter metric.Meter) *OTel {
	return &OTel{meter: meter, gauges: make(map[string]metric.Float64Gauge)}
}

// Export implements metrics.Exporter.
func (e *OTel) Export(ctx context.Context, s metrics.Sample) error {
	g, err := e.gauge(s.Name)
	if err != nil {
		return err
	}
	g.Record(ctx, s.Value, metric.WithAttributes(attribute.String("namespace", s.Namespace)))
	return nil
}

func (e *OTel) gauge(name string) (metric.Float64Gauge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if g, ok := e.gauges[name]; ok {
		return g, nil
	}
	g, err := e.meter.Float64Gauge(name)
	if err != nil {
		return nil, fmt.Errorf("otel gauge %s: %w", name, err)
	}
	e.gauges[name] = g
	return g, nil
}

// Log writes samples to the debug log and never fails. Used when no
// metrics backend is configured.
type Log struct{}

// Export implements metrics.Exporter.
func (Log) Export(_ context.Context, s metrics.Sample) error {
	slog.Debug("metric sample", "namespace", s.Namespace, "metric", s.Name, "value", s.Value)
	return nil
}
