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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExporter records every exported sample and fails for names in
// failFor.
type recordingExporter struct {
	mu      sync.Mutex
	samples []Sample
	failFor map[string]bool
}

func (e *recordingExporter) Export(_ context.Context, s Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failFor[s.Name] {
		return errors.New("backend rejected sample")
	}
	e.samples = append(e.samples, s)
	return nil
}

func (e *recordingExporter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.samples))
	for _, s := range e.samples {
		out = append(out, s.Name)
	}
	return out
}

func constMetric(name string, v float64) Metric {
	return NewMetric(name, func(context.Context) (float64, error) { return v, nil })
}

func TestNewPublisher_RequiresExporter(t *testing.T) {
	_, err := NewPublisher(nil, PublisherConfig{})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestPublisher_PublishesAllMetrics(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	exp := &recordingExporter{}
	p, err := NewPublisher(exp, PublisherConfig{Namespace: "recycler", Now: func() time.Time { return fixed }},
		constMetric("cpu", 12.5),
		constMetric("mem", 40),
	)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background()))

	require.Len(t, exp.samples, 2)
	assert.Equal(t, Sample{Name: "cpu", Namespace: "recycler", Value: 12.5, Time: fixed}, exp.samples[0])
	assert.Equal(t, "mem", exp.samples[1].Name)
	assert.Empty(t, p.FailedPublishing())
}

// TestPublisher_OneExportFailure verifies that one failing metric out of N
// yields a failure count of exactly one for that name and N-1 exports.
func TestPublisher_OneExportFailure(t *testing.T) {
	exp := &recordingExporter{failFor: map[string]bool{"b": true}}
	p, err := NewPublisher(exp, PublisherConfig{},
		constMetric("a", 1), constMetric("b", 2), constMetric("c", 3), constMetric("d", 4),
	)
	require.NoError(t, err)

	err = p.Publish(context.Background())

	require.Error(t, err)
	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "b", perr.Metric)
	assert.Equal(t, []string{"a", "c", "d"}, exp.names())
	assert.Equal(t, map[string]int64{"b": 1}, p.FailedPublishing())
}

func TestPublisher_ReadFailureCounted(t *testing.T) {
	exp := &recordingExporter{}
	broken := NewMetric("disk", func(context.Context) (float64, error) {
		return 0, errors.New("stat failed")
	})
	p, err := NewPublisher(exp, PublisherConfig{}, broken, constMetric("cpu", 1))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = p.Publish(context.Background())
	}

	assert.Equal(t, map[string]int64{"disk": 3}, p.FailedPublishing())
	assert.Len(t, exp.names(), 3)
}

func TestPublisher_SuffixApplied(t *testing.T) {
	exp := &recordingExporter{failFor: map[string]bool{"mem-eu": true}}
	p, err := NewPublisher(exp, PublisherConfig{Suffix: "-eu"}, constMetric("cpu", 1), constMetric("mem", 2))
	require.NoError(t, err)

	_ = p.Publish(context.Background())

	assert.Equal(t, []string{"cpu-eu"}, exp.names())
	assert.Equal(t, map[string]int64{"mem-eu": 1}, p.FailedPublishing())
}

func TestPublisher_MaxFailureTags(t *testing.T) {
	exp := &recordingExporter{failFor: map[string]bool{"a": true, "b": true, "c": true}}
	p, err := NewPublisher(exp, PublisherConfig{MaxFailureTags: 2},
		constMetric("a", 1), constMetric("b", 1), constMetric("c", 1))
	require.NoError(t, err)

	_ = p.Publish(context.Background())
	_ = p.Publish(context.Background())

	assert.Equal(t, map[string]int64{"a": 2, "b": 2}, p.FailedPublishing())
}

func TestPublisher_Register(t *testing.T) {
	exp := &recordingExporter{}
	p, err := NewPublisher(exp, PublisherConfig{})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background()))
	assert.Empty(t, exp.names())

	require.NoError(t, p.Register(constMetric("late", 1)))
	require.NoError(t, p.Publish(context.Background()))
	assert.Equal(t, []string{"late"}, exp.names())
}

func TestPublisher_RejectsInvalidNames(t *testing.T) {
	exp := &recordingExporter{}

	_, err := NewPublisher(exp, PublisherConfig{Namespace: "bad namespace"})
	assert.Error(t, err)

	_, err = NewPublisher(exp, PublisherConfig{}, constMetric("cpu,host=x", 1))
	assert.Error(t, err)

	p, err := NewPublisher(exp, PublisherConfig{Suffix: "-eu"})
	require.NoError(t, err)
	assert.Error(t, p.Register(constMetric("ok", 1), constMetric("9bad", 2)))

	require.NoError(t, p.Publish(context.Background()))
	assert.Empty(t, exp.names(), "a rejected batch registers nothing")
}

func TestCollector_ExposesFailures(t *testing.T) {
	exp := &recordingExporter{failFor: map[string]bool{"cpu": true}}
	p, err := NewPublisher(exp, PublisherConfig{}, constMetric("cpu", 1))
	require.NoError(t, err)
	_ = p.Publish(context.Background())
	_ = p.Publish(context.Background())

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("recycler_failed_publishing_total", "Publish failures.", p.Failures())))

	expected := `
# HELP recycler_failed_publishing_total Publish failures.
# TYPE recycler_failed_publishing_total counter
recycler_failed_publishing_total{metric="cpu"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "recycler_failed_publishing_total"))
}
