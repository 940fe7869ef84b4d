// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exporters sends metric samples to concrete backends.
//
// Every exporter implements metrics.Exporter. Which one is used is decided
// once at startup from the metrics.exporter configuration value.
package exporters

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
)

// defaultMeasurement is used when a sample carries no namespace.
const defaultMeasurement = "recycler"

// InfluxConfig configures the InfluxDB exporter.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Host is added as the "host" tag when non-empty, usually the instance id.
	Host string
}

// Influx writes one InfluxDB point per sample.
//
// # Description
//
// Points use the sample namespace as measurement, the metric name as the
// "metric" tag and the value as the "value" field. Writes are blocking so
// an export error reaches the publisher's failure counters.
//
// # Thread Safety
//
// Safe for concurrent use; the blocking write API is.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	host   string
}

// NewInflux creates an InfluxDB exporter.
//
// # Outputs
//
//   - *Influx: Must be closed to release the HTTP client.
//   - error: Non-nil if URL, Org or Bucket is empty.
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx exporter: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		host:   cfg.Host,
	}, nil
}

// Export implements metrics.Exporter.
func (e *Influx) Export(ctx context.Context, s metrics.Sample) error {
	measurement := s.Namespace
	if measurement == "" {
		measurement = defaultMeasurement
	}

	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("metric", s.Name).
		AddField("value", s.Value).
		SetTime(s.Time)
	if e.host != "" {
		p.AddTag("host", e.host)
	}

	if err := e.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write %s: %w", s.Name, err)
	}
	return nil
}

// Close releases the underlying client.
func (e *Influx) Close() error {
	e.client.Close()
	return nil
}
