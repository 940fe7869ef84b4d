// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recycle

import (
	"errors"
	"fmt"
)

// Provider operations named in ProviderError.Op.
const (
	OpScaleOut    = "scale_out"
	OpHealthCheck = "health_check"
	OpRetire      = "retire"
)

// ErrInvalidSetup marks a recycle request ignored because the adapter
// reports no instance id. It is logged, never returned to a caller.
var ErrInvalidSetup = errors.New("recycle: invalid setup, instance id is empty")

// ProviderError is a failed cloud provider call. It ends the workflow.
type ProviderError struct {
	// Op is one of OpScaleOut, OpHealthCheck, OpRetire.
	Op string

	// InstanceID is the instance being recycled.
	InstanceID string

	// Err is the provider's error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s on instance %s: %v", e.Op, e.InstanceID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
