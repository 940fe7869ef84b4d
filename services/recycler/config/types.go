// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the recycler configuration from YAML, applies
// RECYCLER_* environment overrides and validates the result.
package config

import "time"

// Providers.
const (
	ProviderGCE    = "gce"
	ProviderDryRun = "dryrun"
)

// Metric exporters.
const (
	ExporterGCP      = "gcp"
	ExporterInfluxDB = "influxdb"
	ExporterOTel     = "otel"
	ExporterNone     = "none"
)

// Notification transports.
const (
	TransportPubSub = "pubsub"
	TransportNone   = "none"
)

// Config is the root of recycler.yaml.
type Config struct {
	// InstanceID names this instance. Empty with provider gce means
	// discover it from the metadata server.
	InstanceID string `yaml:"instance_id"`

	Provider string `yaml:"provider" validate:"oneof=gce dryrun"`

	// RequestTimeoutSeconds bounds every cloud API call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" validate:"gte=0"`

	Recycle      RecycleConfig      `yaml:"recycle"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Notification NotificationConfig `yaml:"notification"`
	GCE          GCEConfig          `yaml:"gce"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Admin        AdminConfig        `yaml:"admin"`
	Log          LogConfig          `yaml:"log"`
}

type RecycleConfig struct {
	InitialWaitSeconds         int `yaml:"initial_wait_seconds" validate:"gte=0"`
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds" validate:"gte=0"`
	HealthCheckMaxAttempts     int `yaml:"health_check_max_attempts" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled              bool   `yaml:"enabled"`
	SleepIntervalSeconds int    `yaml:"sleep_interval_seconds" validate:"gt=0"`
	Namespace            string `yaml:"namespace"`
	Suffix               string `yaml:"suffix"`
	Exporter             string `yaml:"exporter" validate:"oneof=gcp influxdb otel none"`

	// MaxFailureTags bounds the failure counter's distinct metric names.
	// Zero means unbounded.
	MaxFailureTags int `yaml:"max_failure_tags" validate:"gte=0"`

	// Host publishes CPU, memory, disk and load of this machine.
	Host     bool   `yaml:"host"`
	DiskPath string `yaml:"disk_path"`
}

type NotificationConfig struct {
	// Topic is a Pub/Sub topic id or full name. Empty disables notifications.
	Topic     string `yaml:"topic"`
	Transport string `yaml:"transport" validate:"oneof=pubsub none"`
}

type GCEConfig struct {
	Project         string `yaml:"project"`
	Zone            string `yaml:"zone"`
	InstanceGroup   string `yaml:"instance_group"`
	BackendService  string `yaml:"backend_service"`
	Region          string `yaml:"region"`
	CredentialsFile string `yaml:"credentials_file"`
}

type InfluxDBConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

type AdminConfig struct {
	// Listen is the admin API address. Empty disables the API.
	Listen            string  `yaml:"listen"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`

	// Token, when set, is required as a bearer token on /v1 routes.
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Provider:              ProviderGCE,
		RequestTimeoutSeconds: 30,
		Recycle: RecycleConfig{
			InitialWaitSeconds:         240,
			HealthCheckIntervalSeconds: 60,
			HealthCheckMaxAttempts:     60,
		},
		Metrics: MetricsConfig{
			SleepIntervalSeconds: 60,
			Namespace:            "recycler",
			Exporter:             ExporterNone,
			DiskPath:             "/",
		},
		Notification: NotificationConfig{
			Transport: TransportPubSub,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
		Admin: AdminConfig{
			Listen:            ":8090",
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RequestTimeout is the per-call provider timeout.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.RequestTimeoutSeconds)
}

// InitialWait is the pause between scale-out and the first health check.
func (c RecycleConfig) InitialWait() time.Duration {
	return seconds(c.InitialWaitSeconds)
}

// HealthCheckInterval is the pause before each health check.
func (c RecycleConfig) HealthCheckInterval() time.Duration {
	return seconds(c.HealthCheckIntervalSeconds)
}

// SleepInterval is the metrics publishing period.
func (c MetricsConfig) SleepInterval() time.Duration {
	return seconds(c.SleepIntervalSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
