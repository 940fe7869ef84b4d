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
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a TagCounterMap as one Prometheus counter family with
// a single label named after the map's tag.
//
// # Examples
//
//	registry.MustRegister(metrics.NewCollector(
//	    "recycler_metrics_failed_publishing_total",
//	    "Metric publish failures by metric name.",
//	    publisher.Failures(),
//	))
type Collector[K comparable] struct {
	desc *prometheus.Desc
	m    *TagCounterMap[K]
}

// NewCollector creates a Collector for m under the fully-qualified name.
func NewCollector[K comparable](name, help string, m *TagCounterMap[K]) *Collector[K] {
	return &Collector[K]{
		desc: prometheus.NewDesc(name, help, []string{m.TagName()}, nil),
		m:    m,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector[K]) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector[K]) Collect(ch chan<- prometheus.Metric) {
	for tag, v := range c.m.Labels() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), tag)
	}
}
