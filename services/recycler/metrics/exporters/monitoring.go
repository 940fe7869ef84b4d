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
	"time"

	monitoring "google.golang.org/api/monitoring/v3"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
)

// customMetricPrefix is the Cloud Monitoring prefix for user-defined metrics.
const customMetricPrefix = "custom.googleapis.com/"

// MonitoringConfig configures the Cloud Monitoring exporter.
type MonitoringConfig struct {
	// Project is the GCP project id that owns the time series. Required.
	Project string

	// Zone and InstanceID select the gce_instance monitored resource. When
	// either is empty the "global" resource is used.
	Zone       string
	InstanceID string

	// Options are passed to monitoring.NewService, e.g. credentials or a
	// test endpoint.
	Options []option.ClientOption
}

// Monitoring writes custom metrics to Google Cloud Monitoring.
//
// # Description
//
// Each sample becomes one gauge point of the metric type
// "custom.googleapis.com/<namespace>/<name>", written with a single
// projects.timeSeries.create call.
//
// # Limitations
//
//   - Cloud Monitoring rejects points for the same series written more often
//     than every 5 seconds; the scheduler interval must respect that.
type Monitoring struct {
	svc      *monitoring.Service
	project  string
	resource *monitoring.MonitoredResource
}

// NewMonitoring creates a Cloud Monitoring exporter.
func NewMonitoring(ctx context.Context, cfg MonitoringConfig) (*Monitoring, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("monitoring exporter: project is required")
	}
	svc, err := monitoring.NewService(ctx, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("monitoring exporter: create service: %w", err)
	}

	resource := &monitoring.MonitoredResource{
		Type:   "global",
		Labels: map[string]string{"project_id": cfg.Project},
	}
	if cfg.Zone != "" && cfg.InstanceID != "" {
		resource = &monitoring.MonitoredResource{
			Type: "gce_instance",
			Labels: map[string]string{
				"project_id":  cfg.Project,
				"zone":        cfg.Zone,
				"instance_id": cfg.InstanceID,
			},
		}
	}

	return &Monitoring{svc: svc, project: cfg.Project, resource: resource}, nil
}

// Export implements metrics.Exporter.
func (e *Monitoring) Export(ctx context.Context, s metrics.Sample) error {
	value := s.Value
	req := &monitoring.CreateTimeSeriesRequest{
		TimeSeries: []*monitoring.TimeSeries{{
			Metric: &monitoring.Metric{
				Type: MetricType(s.Namespace, s.Name),
			},
			Resource:   e.resource,
			MetricKind: "GAUGE",
			ValueType:  "DOUBLE",
			Points: []*monitoring.Point{{
				Interval: &monitoring.TimeInterval{
					EndTime: s.Time.UTC().Format(time.RFC3339Nano),
				},
				Value: &monitoring.TypedValue{DoubleValue: &value},
			}},
		}},
	}

	_, err := e.svc.Projects.TimeSeries.Create("projects/"+e.project, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("monitoring create time series %s: %w", s.Name, err)
	}
	return nil
}

// MetricType returns the custom metric type for a namespace and name.
func MetricType(namespace, name string) string {
	if namespace == "" {
		return customMetricPrefix + name
	}
	return customMetricPrefix + namespace + "/" + name
}
