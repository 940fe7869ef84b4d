// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dryrun provides a cloud adapter that changes nothing. It logs
// each call and reports a configurable health answer, which makes the
// recycle workflow runnable on a workstation.
package dryrun

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Adapter implements recycle.CloudAdapter without touching any cloud.
type Adapter struct {
	instanceID string
	healthy    atomic.Bool

	mu    sync.Mutex
	calls []string
}

// New creates an Adapter for instanceID that reports healthy.
func New(instanceID string) *Adapter {
	a := &Adapter{instanceID: instanceID}
	a.healthy.Store(true)
	return a
}

// SetHealthy changes the answer of IsHealthy.
func (a *Adapter) SetHealthy(ok bool) {
	a.healthy.Store(ok)
}

// InstanceID returns the configured id.
func (a *Adapter) InstanceID() string {
	return a.instanceID
}

// ScaleOut logs and succeeds.
func (a *Adapter) ScaleOut(ctx context.Context) error {
	a.record("scale_out")
	slog.InfoContext(ctx, "dry run: scale out", "instance_id", a.instanceID)
	return ctx.Err()
}

// IsHealthy returns the configured answer.
func (a *Adapter) IsHealthy(ctx context.Context) (bool, error) {
	a.record("health_check")
	ok := a.healthy.Load()
	slog.InfoContext(ctx, "dry run: health check", "instance_id", a.instanceID, "healthy", ok)
	return ok, ctx.Err()
}

// RetireSelf logs and succeeds. The process keeps running.
func (a *Adapter) RetireSelf(ctx context.Context) error {
	a.record("retire")
	slog.InfoContext(ctx, "dry run: retire self", "instance_id", a.instanceID)
	return ctx.Err()
}

// Calls returns the operations performed so far, in order.
func (a *Adapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *Adapter) record(op string) {
	a.mu.Lock()
	a.calls = append(a.calls, op)
	a.mu.Unlock()
}
