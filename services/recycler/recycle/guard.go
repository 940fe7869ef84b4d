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
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianRecycler/pkg/util"
)

// Workflow runs one recycle. *Orchestrator implements it.
type Workflow interface {
	Run(ctx context.Context, req Request) State
}

// Notifier sends the shutdown advisory. notify.Gate implements it.
type Notifier interface {
	Notify(ctx context.Context, reason string)
}

// Guard accepts at most one recycle request per process.
//
// # Description
//
// The first valid RequestRecycle flips a compare-and-set latch and launches
// the shutdown notification and the workflow on two background goroutines,
// then returns. Every later call is a no-op. The latch never resets.
//
// A request made while the adapter reports no instance id is ignored
// without flipping the latch, so a later request on a correctly set up
// process is still accepted.
//
// # Thread Safety
//
// RequestRecycle may be called from any number of goroutines; exactly one
// workflow starts.
type Guard struct {
	adapter  CloudAdapter
	workflow Workflow
	notifier Notifier

	triggered atomic.Bool
	request   atomic.Pointer[Request]

	wg sync.WaitGroup
}

// NewGuard creates a Guard.
//
// # Inputs
//
//   - adapter: Consulted for the instance id on every request.
//   - workflow: Started once on the first accepted request.
//   - notifier: Optional; nil disables the shutdown advisory.
func NewGuard(adapter CloudAdapter, workflow Workflow, notifier Notifier) *Guard {
	return &Guard{adapter: adapter, workflow: workflow, notifier: notifier}
}

// RequestRecycle asks for this instance to be recycled.
//
// # Description
//
// Returns immediately. The outcome is only observable through Triggered,
// logs and the workflow's own status. ctx supplies values such as trace
// context; its cancellation does not stop the launched tasks.
//
// # Inputs
//
//   - ctx: Request context.
//   - reason: Why the instance should be replaced.
func (g *Guard) RequestRecycle(ctx context.Context, reason string) {
	instanceID := g.adapter.InstanceID()
	if instanceID == "" {
		slog.Warn("recycle request ignored", "reason", reason, "error", ErrInvalidSetup)
		return
	}

	if !g.triggered.CompareAndSwap(false, true) {
		slog.Info("recycle already triggered, request ignored", "instance_id", instanceID, "reason", reason)
		return
	}

	req := NewRequest(reason)
	g.request.Store(&req)
	slog.Info("recycle request accepted", "instance_id", instanceID, "run_id", req.RunID, "reason", reason)

	bg := context.WithoutCancel(ctx)

	if g.notifier != nil {
		g.wg.Add(1)
		util.SafeGo("shutdown-notification", func() {
			defer g.wg.Done()
			g.notifier.Notify(bg, reason)
		}, nil)
	}

	g.wg.Add(1)
	util.SafeGo("recycle-workflow", func() {
		defer g.wg.Done()
		g.workflow.Run(bg, req)
	}, nil)
}

// Triggered reports whether a request has been accepted.
func (g *Guard) Triggered() bool {
	return g.triggered.Load()
}

// Request returns the accepted request, if any.
func (g *Guard) Request() (Request, bool) {
	if r := g.request.Load(); r != nil {
		return *r, true
	}
	return Request{}, false
}

// Wait blocks until the launched notification and workflow have returned.
// It returns immediately if nothing was launched.
func (g *Guard) Wait() {
	g.wg.Wait()
}
