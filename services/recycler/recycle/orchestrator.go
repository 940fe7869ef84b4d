// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recycle replaces the current instance with fresh capacity.
//
// # Description
//
// A recycle is a one-shot workflow:
//
//  1. ScalingOut: ask the fleet for replacement capacity.
//  2. WaitingHealthy: wait a fixed delay, then poll fleet health at a fixed
//     interval until healthy or out of attempts.
//  3. Retiring: remove this instance and decrement desired capacity.
//
// Running out of health attempts is tolerated and the workflow proceeds to
// retire. A failed health check is not: it ends the workflow before
// retirement. No provider call is retried and nothing is rolled back.
//
// Application code calls Guard.RequestRecycle, which runs the Orchestrator
// at most once per process.
//
// # Thread Safety
//
// Guard and Orchestrator are safe for concurrent use.
package recycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of workflow spans.
const tracerName = "github.com/AleutianAI/AleutianRecycler/services/recycler/recycle"

// =============================================================================
// Configuration
// =============================================================================

// Config holds the workflow timing and its collaborators.
//
// # Fields
//
//   - InitialWait: Delay after scale-out before the first health check. Default: 240s.
//   - HealthCheckInterval: Delay before each health check. Default: 60s.
//   - HealthCheckMaxAttempts: Health checks before giving up waiting. Default: 60.
//   - RequestTimeout: Bound on each provider call. Zero means unbounded.
//   - Sleeper: Blocks between phases. Default: the wall clock.
//   - Tracer: Span source. Default: the global tracer provider.
//   - Observer: Optional progress sink.
type Config struct {
	InitialWait            time.Duration
	HealthCheckInterval    time.Duration
	HealthCheckMaxAttempts int
	RequestTimeout         time.Duration

	Sleeper  Sleeper
	Tracer   trace.Tracer
	Observer Observer
}

// DefaultConfig returns the production timings with a 30 second provider
// timeout.
func DefaultConfig() Config {
	return Config{
		InitialWait:            240 * time.Second,
		HealthCheckInterval:    60 * time.Second,
		HealthCheckMaxAttempts: 60,
		RequestTimeout:         30 * time.Second,
	}
}

// =============================================================================
// Status
// =============================================================================

// Status is a point-in-time view of the workflow for introspection.
type Status struct {
	State         State
	RunID         string
	Reason        string
	StartedAt     time.Time
	FinishedAt    time.Time
	HealthChecks  int
	Error         string
	ScaleOutCalls int
	RetireCalls   int
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the scale-out, wait-healthy, retire workflow once.
//
// # Description
//
// Run executes the phases strictly in order on the calling goroutine. The
// orchestrator is the only writer of its state; State and Status may be
// read from any goroutine.
//
// # Limitations
//
//   - Single use. Run on an orchestrator that already started returns its
//     current state without calling the provider.
//   - No cancellation. Callers pass a context without cancellation; a
//     cancelled context only fails the in-flight provider call.
type Orchestrator struct {
	adapter CloudAdapter
	cfg     Config

	state atomic.Int32

	mu     sync.Mutex
	status Status
}

// NewOrchestrator creates an orchestrator for adapter.
//
// # Inputs
//
//   - adapter: Provider capability set. Must be non-nil.
//   - cfg: Timings and collaborators. Zero durations are allowed (tests);
//     a non-positive HealthCheckMaxAttempts skips polling entirely.
func NewOrchestrator(adapter CloudAdapter, cfg Config) *Orchestrator {
	if cfg.Sleeper == nil {
		cfg.Sleeper = clock.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{adapter: adapter, cfg: cfg}
}

// State returns the current workflow state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Status returns a copy of the workflow status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	s.State = o.State()
	return s
}

// Run executes the workflow for req and returns its terminal state.
//
// # Description
//
// Errors end the workflow in StateFailed and are logged, not returned: no
// caller observes the outcome except through logs, metrics and Status.
//
// # Inputs
//
//   - ctx: Carries trace context. Provider calls derive per-call timeouts
//     from it.
//   - req: The accepted request.
//
// # Outputs
//
//   - State: StateCompleted or StateFailed, or the current state if the
//     orchestrator had already started.
func (o *Orchestrator) Run(ctx context.Context, req Request) State {
	if !o.state.CompareAndSwap(int32(StateNotStarted), int32(StateScalingOut)) {
		return o.State()
	}

	instanceID := o.adapter.InstanceID()
	log := slog.With("instance_id", instanceID, "run_id", req.RunID)

	ctx, span := o.cfg.Tracer.Start(ctx, "recycle.workflow", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("run_id", req.RunID),
		attribute.String("reason", req.Reason),
	))
	defer span.End()

	o.mu.Lock()
	o.status.RunID = req.RunID
	o.status.Reason = req.Reason
	o.status.StartedAt = time.Now().UTC()
	o.mu.Unlock()

	log.Info("recycle workflow started", "reason", req.Reason)
	o.observeState(StateScalingOut)

	final := o.run(ctx, log, instanceID)

	o.mu.Lock()
	o.status.FinishedAt = time.Now().UTC()
	o.mu.Unlock()

	if final == StateFailed {
		span.SetStatus(codes.Error, o.Status().Error)
	}
	span.SetAttributes(attribute.String("final_state", final.String()))
	return final
}

// run drives the phases. The state is already ScalingOut.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, instanceID string) State {
	if err := o.scaleOut(ctx, instanceID); err != nil {
		return o.fail(log, err)
	}
	log.Info("scale-out requested, waiting for fleet health",
		"initial_wait", o.cfg.InitialWait.String(),
		"interval", o.cfg.HealthCheckInterval.String(),
		"max_attempts", o.cfg.HealthCheckMaxAttempts,
	)

	o.transition(StateWaitingHealthy)
	if err := o.waitHealthy(ctx, log, instanceID); err != nil {
		return o.fail(log, err)
	}

	o.transition(StateRetiring)
	if err := o.retire(ctx, instanceID); err != nil {
		return o.fail(log, err)
	}

	o.transition(StateCompleted)
	log.Info("recycle workflow completed, instance retired")
	return StateCompleted
}

// waitHealthy sleeps InitialWait, then polls up to HealthCheckMaxAttempts
// times. Exhausting the attempts returns nil; a check error is returned.
func (o *Orchestrator) waitHealthy(ctx context.Context, log *slog.Logger, instanceID string) error {
	ctx, span := o.cfg.Tracer.Start(ctx, "recycle.wait_healthy")
	defer span.End()

	o.cfg.Sleeper.Sleep(o.cfg.InitialWait)

	for attempt := 1; attempt <= o.cfg.HealthCheckMaxAttempts; attempt++ {
		o.cfg.Sleeper.Sleep(o.cfg.HealthCheckInterval)

		healthy, err := o.isHealthy(ctx, instanceID)
		o.mu.Lock()
		o.status.HealthChecks = attempt
		o.mu.Unlock()

		if err != nil {
			o.observeHealth(HealthError)
			span.SetAttributes(attribute.Int("attempts", attempt))
			return err
		}
		if healthy {
			o.observeHealth(HealthHealthy)
			span.SetAttributes(attribute.Int("attempts", attempt))
			log.Info("all load balancer instances are healthy", "attempt", attempt)
			return nil
		}
		o.observeHealth(HealthUnhealthy)
		log.Debug("fleet not yet healthy", "attempt", attempt, "max_attempts", o.cfg.HealthCheckMaxAttempts)
	}

	span.SetAttributes(attribute.Int("attempts", o.cfg.HealthCheckMaxAttempts), attribute.Bool("timed_out", true))
	log.Warn("fleet did not become healthy in time, retiring anyway",
		"max_attempts", o.cfg.HealthCheckMaxAttempts,
	)
	return nil
}

func (o *Orchestrator) scaleOut(ctx context.Context, instanceID string) error {
	o.mu.Lock()
	o.status.ScaleOutCalls++
	o.mu.Unlock()

	return o.call(ctx, "recycle.scale_out", OpScaleOut, instanceID, o.adapter.ScaleOut)
}

func (o *Orchestrator) retire(ctx context.Context, instanceID string) error {
	o.mu.Lock()
	o.status.RetireCalls++
	o.mu.Unlock()

	return o.call(ctx, "recycle.retire", OpRetire, instanceID, o.adapter.RetireSelf)
}

func (o *Orchestrator) isHealthy(ctx context.Context, instanceID string) (bool, error) {
	var healthy bool
	err := o.call(ctx, "recycle.health_check", OpHealthCheck, instanceID, func(ctx context.Context) error {
		var err error
		healthy, err = o.adapter.IsHealthy(ctx)
		return err
	})
	return healthy, err
}

// call runs one provider operation in its own span, bounded by
// RequestTimeout, and wraps a failure in a ProviderError.
func (o *Orchestrator) call(ctx context.Context, spanName, op, instanceID string, fn func(context.Context) error) error {
	ctx, span := o.cfg.Tracer.Start(ctx, spanName)
	defer span.End()

	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &ProviderError{Op: op, InstanceID: instanceID, Err: err}
	}
	return nil
}

func (o *Orchestrator) fail(log *slog.Logger, err error) State {
	o.mu.Lock()
	o.status.Error = err.Error()
	o.mu.Unlock()

	log.Error("recycle workflow failed", "phase", o.State().String(), "error", err)
	o.transition(StateFailed)
	return StateFailed
}

func (o *Orchestrator) transition(s State) {
	o.state.Store(int32(s))
	o.observeState(s)
}

func (o *Orchestrator) observeState(s State) {
	if o.cfg.Observer != nil {
		o.cfg.Observer.ObserveState(s)
	}
}

func (o *Orchestrator) observeHealth(outcome string) {
	if o.cfg.Observer != nil {
		o.cfg.Observer.ObserveHealthCheck(outcome)
	}
}
