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
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Workflow State
// =============================================================================

// State is the phase of a recycle workflow.
//
// Transitions only move forward:
//
//	NotStarted -> ScalingOut -> WaitingHealthy -> Retiring -> Completed
//
// with Failed reachable from ScalingOut, WaitingHealthy and Retiring.
// Completed and Failed are terminal.
type State int32

const (
	StateNotStarted State = iota
	StateScalingOut
	StateWaitingHealthy
	StateRetiring
	StateCompleted
	StateFailed
)

// String returns the snake_case name used in logs, metrics and the API.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateScalingOut:
		return "scaling_out"
	case StateWaitingHealthy:
		return "waiting_healthy"
	case StateRetiring:
		return "retiring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// AllStates lists every state in transition order.
var AllStates = []State{
	StateNotStarted,
	StateScalingOut,
	StateWaitingHealthy,
	StateRetiring,
	StateCompleted,
	StateFailed,
}

// =============================================================================
// Request
// =============================================================================

// Request is one accepted recycle request. It is immutable once created.
type Request struct {
	// Reason is the caller-supplied explanation, forwarded to notifications.
	Reason string

	// RunID correlates logs, spans and notifications of one workflow.
	RunID string

	// RequestedAt is when the request was accepted.
	RequestedAt time.Time
}

// NewRequest creates a Request with a fresh RunID.
func NewRequest(reason string) Request {
	return Request{
		Reason:      reason,
		RunID:       uuid.NewString(),
		RequestedAt: time.Now().UTC(),
	}
}

// =============================================================================
// Collaborators
// =============================================================================

// CloudAdapter is the provider capability set the workflow drives.
//
// Implementations own their clients. Every call except InstanceID may fail
// with a provider error; the workflow never retries.
type CloudAdapter interface {
	// InstanceID identifies this instance. Empty means the process is not
	// running on a recyclable instance.
	InstanceID() string

	// ScaleOut asks the fleet for replacement capacity.
	ScaleOut(ctx context.Context) error

	// IsHealthy reports whether every instance behind the load balancer is
	// serving traffic.
	IsHealthy(ctx context.Context) (bool, error)

	// RetireSelf removes this instance from the fleet and decrements the
	// desired capacity in one operation.
	RetireSelf(ctx context.Context) error
}

// Sleeper blocks for a duration. clock.Clock from benbjohnson/clock
// satisfies it.
type Sleeper interface {
	Sleep(d time.Duration)
}

// Health check outcomes reported to an Observer.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthError     = "error"
)

// Observer receives workflow progress. The observability package
// implements it with Prometheus metrics.
type Observer interface {
	ObserveState(s State)
	ObserveHealthCheck(outcome string)
}
