// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/AleutianAI/AleutianRecycler/pkg/util"
)

// =============================================================================
// Scheduler Configuration
// =============================================================================

// Tick outcomes reported to a TickObserver.
const (
	TickPublished = "published"
	TickFailed    = "failed"
	TickSkipped   = "skipped"
)

// TickObserver is notified after every scheduler tick.
//
// The observability package implements it with Prometheus counters.
type TickObserver interface {
	ObserveTick(outcome string, duration time.Duration)
}

// SchedulerConfig holds configuration for the metrics scheduler.
//
// # Fields
//
//   - Interval: Fixed repetition interval. Default: 60 seconds.
//   - Enabled: Initial value of the enable flag. Default: false.
//   - Clock: Time source for the ticker. Default: the wall clock.
//   - Observer: Optional tick observer.
type SchedulerConfig struct {
	Interval time.Duration
	Enabled  bool
	Clock    clock.Clock
	Observer TickObserver
}

// DefaultSchedulerConfig returns a 60 second, disabled configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: 60 * time.Second,
		Enabled:  false,
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler runs a Sink at a fixed interval.
//
// # Description
//
// Start creates the schedule and runs the first tick immediately. Each tick
// publishes only while the enable flag is set; a disabled scheduler keeps
// running and its ticks do nothing. Publish errors and panics are logged
// and never cancel the schedule.
//
// # Fields
//
//   - enabled: Atomically read by every tick, writable at any time.
//   - done: Non-nil while a schedule exists. Guarded by mu.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Start and Stop are serialized
// by mu so at most one schedule exists at a time. They do not wait for an
// in-flight tick.
type Scheduler struct {
	sink     Sink
	interval time.Duration
	clock    clock.Clock
	observer TickObserver

	enabled atomic.Bool

	mu   sync.Mutex
	done chan struct{}
}

// NewScheduler creates a stopped Scheduler for sink.
//
// # Inputs
//
//   - sink: Called once per enabled tick. Must be non-nil.
//   - config: Interval must be positive.
//
// # Outputs
//
//   - *Scheduler: Ready to Start().
//   - error: Non-nil for a nil sink or non-positive interval.
//
// # Examples
//
//	scheduler, err := metrics.NewScheduler(publisher, metrics.SchedulerConfig{
//	    Interval: time.Minute,
//	    Enabled:  true,
//	})
//	if err != nil {
//	    return err
//	}
//	scheduler.Start(ctx)
//	defer scheduler.Stop()
func NewScheduler(sink Sink, config SchedulerConfig) (*Scheduler, error) {
	if sink == nil {
		return nil, fmt.Errorf("metrics scheduler: sink is required")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("metrics scheduler: interval must be positive, got %s", config.Interval)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &Scheduler{
		sink:     sink,
		interval: config.Interval,
		clock:    clk,
		observer: config.Observer,
	}
	s.enabled.Store(config.Enabled)
	return s, nil
}

// Start creates the schedule if none exists.
//
// # Description
//
// Calling Start on a running scheduler has no effect. The first tick runs
// immediately on the schedule's goroutine, then every Interval. The
// schedule ends on Stop or when ctx is cancelled.
//
// # Inputs
//
//   - ctx: Parent context for every publish call.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return
	}

	done := make(chan struct{})
	s.done = done
	ticker := s.clock.Ticker(s.interval)

	slog.Info("metrics scheduler starting",
		"interval", s.interval.String(),
		"enabled", s.enabled.Load(),
	)

	util.SafeGo("metrics-scheduler", func() {
		s.runLoop(ctx, ticker, done)
	}, nil)
}

// Stop cancels the schedule if one exists. A later Start creates a new one.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return
	}

	slog.Info("metrics scheduler stopping")
	close(s.done)
	s.done = nil
}

// SetEnabled sets the flag read by every tick.
func (s *Scheduler) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) != enabled {
		slog.Info("metrics publishing toggled", "enabled", enabled)
	}
}

// IsEnabled reports the enable flag.
func (s *Scheduler) IsEnabled() bool {
	return s.enabled.Load()
}

// IsRunning reports whether a schedule exists, regardless of the enable flag.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Interval returns the fixed repetition interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// =============================================================================
// Internal Methods
// =============================================================================

// runLoop ticks until done is closed or ctx is cancelled.
func (s *Scheduler) runLoop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.release(done)
			slog.Info("metrics scheduler stopped (context cancelled)")
			return
		case <-done:
			slog.Info("metrics scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// release clears the schedule handle if it still belongs to this loop.
func (s *Scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		close(done)
		s.done = nil
	}
}

// tick runs one publish cycle. It never panics and never returns an error.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.enabled.Load() {
		slog.Debug("metrics publishing disabled, skipping tick")
		s.observe(TickSkipped, 0)
		return
	}

	start := s.clock.Now()
	outcome := TickFailed
	defer func() {
		s.observe(outcome, s.clock.Since(start))
	}()
	defer util.RecoverPanic("metrics-tick", nil)()

	if err := s.sink.Publish(ctx); err != nil {
		slog.Error("could not publish metrics", "error", err)
		return
	}
	outcome = TickPublished
}

func (s *Scheduler) observe(outcome string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveTick(outcome, d)
	}
}
