// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoExporters(t *testing.T) {
	p, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "none"})
	require.NoError(t, err)

	g, err := p.Meter("test").Float64Gauge("noop")
	require.NoError(t, err)
	g.Record(context.Background(), 1)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_UnknownTraceExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_UnknownMetricExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTracer(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "recycler", TraceExporter: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_PrometheusMeterRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := Init(context.Background(), Config{
		ServiceName:    "recycler",
		InstanceID:     "vm-1",
		MetricExporter: "prometheus",
		Registerer:     reg,
	})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	g, err := p.Meter("test").Float64Gauge("published_value")
	require.NoError(t, err)
	g.Record(context.Background(), 2.5)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "published_value")
}
