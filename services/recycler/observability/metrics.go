// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the recycler.
//
// # Description
//
// RecyclerMetrics implements the observer interfaces of the recycle,
// notify and metrics packages:
//   - Workflow state and transitions
//   - Health check outcomes
//   - Shutdown notification outcomes
//   - Scheduler tick outcomes and durations
//   - Metric publish failures, exposed from the publisher's counter map
//
// Metrics are exposed on the admin API /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Methods on a nil *RecyclerMetrics are no-ops.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/recycle"
)

// Namespace for all metrics
const metricsNamespace = "recycler"

// RecyclerMetrics holds the recycler's Prometheus metrics.
//
// # Fields
//
//   - WorkflowState: 1 for the current workflow state, 0 for the others.
//   - TransitionsTotal: Entries into each workflow state.
//   - HealthChecksTotal: Health checks by outcome.
//   - NotificationsTotal: Shutdown advisories by outcome.
//   - TicksTotal: Scheduler ticks by outcome.
//   - TickDurationSeconds: Time spent publishing per tick.
type RecyclerMetrics struct {
	// Labels: state
	WorkflowState *prometheus.GaugeVec

	// Labels: state
	TransitionsTotal *prometheus.CounterVec

	// Labels: outcome (healthy, unhealthy, error)
	HealthChecksTotal *prometheus.CounterVec

	// Labels: outcome (sent, skipped, failed)
	NotificationsTotal *prometheus.CounterVec

	// Labels: outcome (published, failed, skipped)
	TicksTotal *prometheus.CounterVec

	TickDurationSeconds prometheus.Histogram

	reg prometheus.Registerer
}

// NewRecyclerMetrics creates and registers the metrics on reg.
//
// # Inputs
//
//   - reg: Target registry. Use a fresh prometheus.NewRegistry in tests.
//
// # Limitations
//
//   - Panics on duplicate registration, like promauto.
func NewRecyclerMetrics(reg prometheus.Registerer) *RecyclerMetrics {
	f := promauto.With(reg)

	m := &RecyclerMetrics{
		WorkflowState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "state",
				Help:      "Current recycle workflow state (1 for the active state)",
			},
			[]string{"state"},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "transitions_total",
				Help:      "Recycle workflow state entries by state",
			},
			[]string{"state"},
		),
		HealthChecksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "health_checks_total",
				Help:      "Fleet health checks by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "notification",
				Name:      "total",
				Help:      "Shutdown notifications by outcome",
			},
			[]string{"outcome"},
		),
		TicksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "metrics",
				Name:      "ticks_total",
				Help:      "Metrics scheduler ticks by outcome",
			},
			[]string{"outcome"},
		),
		TickDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "metrics",
				Name:      "tick_duration_seconds",
				Help:      "Time spent publishing metrics per scheduler tick",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		reg: reg,
	}

	m.ObserveState(recycle.StateNotStarted)
	return m
}

// RegisterFailures exposes a publisher's failure counters as
// recycler_metrics_failed_publishing_total{metric=...}.
func (m *RecyclerMetrics) RegisterFailures(failures *metrics.TagCounterMap[string]) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(metrics.NewCollector(
		metricsNamespace+"_metrics_failed_publishing_total",
		"Metric publish failures by metric name",
		failures,
	))
}

// RegisterTriggered exposes the recycle latch as recycler_triggered.
func (m *RecyclerMetrics) RegisterTriggered(triggered func() bool) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "triggered",
			Help:      "1 once a recycle request has been accepted",
		},
		func() float64 {
			if triggered() {
				return 1
			}
			return 0
		},
	))
}

// ObserveState implements recycle.Observer.
func (m *RecyclerMetrics) ObserveState(s recycle.State) {
	if m == nil {
		return
	}
	for _, st := range recycle.AllStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.WorkflowState.WithLabelValues(st.String()).Set(v)
	}
	m.TransitionsTotal.WithLabelValues(s.String()).Inc()
}

// ObserveHealthCheck implements recycle.Observer.
func (m *RecyclerMetrics) ObserveHealthCheck(outcome string) {
	if m == nil {
		return
	}
	m.HealthChecksTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification implements notify.Observer.
func (m *RecyclerMetrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTick implements metrics.TickObserver.
func (m *RecyclerMetrics) ObserveTick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(outcome).Inc()
	if outcome != metrics.TickSkipped {
		m.TickDurationSeconds.Observe(d.Seconds())
	}
}
