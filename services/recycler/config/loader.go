// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterStructValidation(validateProviders, Config{})
}

// Load reads the configuration.
//
// # Description
//
// Starts from Default, overlays the YAML file at path (skipped when path
// is empty), applies RECYCLER_* environment overrides and validates.
//
// # Inputs
//
//   - path: YAML file. Empty means defaults and environment only.
//
// # Outputs
//
//   - *Config: The validated configuration.
//   - error: File, parse or override errors; validation errors wrap
//     ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// validateProviders checks the settings each selected backend needs.
func validateProviders(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)

	if c.Provider == ProviderGCE {
		requireField(sl, c.GCE.Project, "GCE.Project", "project")
		requireField(sl, c.GCE.Zone, "GCE.Zone", "zone")
		requireField(sl, c.GCE.InstanceGroup, "GCE.InstanceGroup", "instance_group")
		requireField(sl, c.GCE.BackendService, "GCE.BackendService", "backend_service")
	}
	if c.Provider == ProviderDryRun {
		requireField(sl, c.InstanceID, "InstanceID", "instance_id")
	}

	switch c.Metrics.Exporter {
	case ExporterGCP:
		requireField(sl, c.GCE.Project, "GCE.Project", "project")
	case ExporterInfluxDB:
		requireField(sl, c.InfluxDB.URL, "InfluxDB.URL", "url")
		requireField(sl, c.InfluxDB.Org, "InfluxDB.Org", "org")
		requireField(sl, c.InfluxDB.Bucket, "InfluxDB.Bucket", "bucket")
	}

	if c.Notification.Transport == TransportPubSub && c.Notification.Topic != "" {
		requireField(sl, c.GCE.Project, "GCE.Project", "project")
	}
}

func requireField(sl validator.StructLevel, value, field, tag string) {
	if value == "" {
		sl.ReportError(value, field, tag, "required", "")
	}
}

// =============================================================================
// Environment Overrides
// =============================================================================

type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"RECYCLER_INSTANCE_ID", func(c *Config, v string) error { c.InstanceID = v; return nil }},
	{"RECYCLER_PROVIDER", func(c *Config, v string) error { c.Provider = v; return nil }},
	{"RECYCLER_REQUEST_TIMEOUT_SECONDS", intEnv(func(c *Config) *int { return &c.RequestTimeoutSeconds })},
	{"RECYCLER_METRICS_ENABLED", boolEnv(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"RECYCLER_METRICS_EXPORTER", func(c *Config, v string) error { c.Metrics.Exporter = v; return nil }},
	{"RECYCLER_METRICS_SLEEP_INTERVAL_SECONDS", intEnv(func(c *Config) *int { return &c.Metrics.SleepIntervalSeconds })},
	{"RECYCLER_NOTIFICATION_TOPIC", func(c *Config, v string) error { c.Notification.Topic = v; return nil }},
	{"RECYCLER_GCE_PROJECT", func(c *Config, v string) error { c.GCE.Project = v; return nil }},
	{"RECYCLER_GCE_ZONE", func(c *Config, v string) error { c.GCE.Zone = v; return nil }},
	{"RECYCLER_GCE_CREDENTIALS_FILE", func(c *Config, v string) error { c.GCE.CredentialsFile = v; return nil }},
	{"RECYCLER_INFLUXDB_TOKEN", func(c *Config, v string) error { c.InfluxDB.Token = v; return nil }},
	{"RECYCLER_ADMIN_LISTEN", func(c *Config, v string) error { c.Admin.Listen = v; return nil }},
	{"RECYCLER_ADMIN_TOKEN", func(c *Config, v string) error { c.Admin.Token = v; return nil }},
	{"RECYCLER_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
}

// EnvNames lists the recognised environment overrides.
func EnvNames() []string {
	names := make([]string, len(envOverrides))
	for i, o := range envOverrides {
		names[i] = o.name
	}
	return names
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func intEnv(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolEnv(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}
