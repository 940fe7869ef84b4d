// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util holds small helpers shared by the recycler's background tasks.
package util

import (
	"log/slog"
	"runtime/debug"
)

// =============================================================================
// Result Types
// =============================================================================

// PanicReport captures a panic recovered from a background task.
//
// # Thread Safety
//
// PanicReport is immutable after creation and safe for concurrent reads.
type PanicReport struct {
	// Task names the background task that panicked, e.g. "recycle-workflow".
	Task string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at panic time, from runtime/debug.Stack().
	Stack string
}

// =============================================================================
// Goroutine Safety Functions
// =============================================================================

// SafeGo runs fn on a new goroutine with panic recovery.
//
// # Description
//
// Background tasks in the recycler (the recycle workflow, the shutdown
// notification, scheduler ticks) are fire-and-forget. A panic in one of them
// must be logged, not crash the process that is serving traffic while it
// waits to be replaced.
//
// # Inputs
//
//   - task: Name attached to the PanicReport.
//   - fn: The function to execute. Must be non-nil.
//   - onPanic: Invoked with the report if fn panics. Nil means LogPanic.
//
// # Example
//
//	util.SafeGo("recycle-workflow", func() {
//	    orchestrator.Run(ctx, req)
//	}, nil)
//
// # Limitations
//
//   - If onPanic itself panics, the process crashes.
func SafeGo(task string, fn func(), onPanic func(PanicReport)) {
	go func() {
		defer RecoverPanic(task, onPanic)()
		fn()
	}()
}

// RecoverPanic returns a function to be deferred that recovers a panic and
// hands it to onPanic (or LogPanic when onPanic is nil).
//
// # Example
//
//	defer util.RecoverPanic("metrics-tick", nil)()
func RecoverPanic(task string, onPanic func(PanicReport)) func() {
	return func() {
		if r := recover(); r != nil {
			report := PanicReport{
				Task:  task,
				Value: r,
				Stack: string(debug.Stack()),
			}
			if onPanic == nil {
				onPanic = LogPanic
			}
			onPanic(report)
		}
	}
}

// LogPanic writes a PanicReport to the default slog logger at Error level.
func LogPanic(r PanicReport) {
	slog.Error("recovered panic in background task",
		"task", r.Task,
		"panic", r.Value,
		"stack", r.Stack,
	)
}
