// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks names that end up inside backend identifiers.
//
// Metric names and namespaces are embedded in Cloud Monitoring metric
// types ("custom.googleapis.com/<namespace>/<name>") and used as InfluxDB
// measurements and tag values. Rejecting anything outside a small
// character set keeps them valid in every backend and keeps line-protocol
// and path injection out.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// metricNamePattern matches valid metric names.
// Allows: letters, digits, underscores, dots, hyphens and slashes
// Must start with a letter or underscore. Max length: 100 characters
var metricNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-/]{0,99}$`)

// ValidateMetricName validates a metric name or namespace.
//
// Valid names:
//   - 1-100 characters
//   - Start with a letter or underscore
//   - Letters, digits, underscores, dots, hyphens and slashes
//
// Example:
//
//	if err := validation.ValidateMetricName(name); err != nil {
//	    return fmt.Errorf("invalid metric: %w", err)
//	}
func ValidateMetricName(name string) error {
	if name == "" {
		return fmt.Errorf("metric name cannot be empty")
	}
	if !metricNamePattern.MatchString(name) {
		return fmt.Errorf("invalid metric name: %q (must start with a letter or underscore, then up to 99 letters, digits, '_', '.', '-' or '/')", name)
	}
	return nil
}

// ValidateMetricNames validates several names.
// Returns an error listing all invalid names if any fail validation.
func ValidateMetricNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateMetricName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid metric names: %q", invalid)
	}
	return nil
}

// SanitizeMetricName trims the name, replaces spaces with underscores and
// validates the result.
//
//	name, err := validation.SanitizeMetricName(" queue depth ")
//	// name == "queue_depth"
func SanitizeMetricName(name string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if err := ValidateMetricName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
