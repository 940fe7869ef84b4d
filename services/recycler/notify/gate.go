// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify sends the shutdown advisory when an instance is recycled.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Transport publishes one message to a topic.
type Transport interface {
	// Publish returns the backend's message id.
	Publish(ctx context.Context, topic, subject, body string) (string, error)
}

// Notification outcomes reported to an Observer.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Observer is told the outcome of every Notify call.
type Observer interface {
	ObserveNotification(outcome string)
}

// TransportError is a failed publish. It never leaves the Gate.
type TransportError struct {
	Topic string
	Err   error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Subject returns the advisory subject for instanceID.
func Subject(instanceID string) string {
	return "VM self-termination triggered on " + instanceID
}

// Body returns the advisory body for instanceID and reason.
func Body(instanceID, reason string) string {
	return fmt.Sprintf("VM instance '%s' needs to be replaced: %s", instanceID, reason)
}

// GateConfig configures a Gate.
type GateConfig struct {
	// Topic is the destination. Empty disables the gate.
	Topic string

	// InstanceID is embedded in the message. Empty disables the gate.
	InstanceID string

	// Timeout bounds the publish call. Zero means unbounded.
	Timeout time.Duration

	// Observer is optional.
	Observer Observer
}

// Gate decides whether a shutdown advisory may be sent and sends it.
//
// # Description
//
// Notify publishes only when a transport is configured, the topic is set
// and the instance id is known. Otherwise it logs and does nothing.
// Transport errors are logged and swallowed; nothing is retried.
//
// # Thread Safety
//
// Safe for concurrent use if the Transport is.
type Gate struct {
	transport Transport
	cfg       GateConfig
}

// NewGate creates a Gate. transport may be nil.
func NewGate(transport Transport, cfg GateConfig) *Gate {
	g := &Gate{transport: transport, cfg: cfg}
	if g.CanPublish() {
		slog.Info("shutdown notifications enabled", "topic", cfg.Topic, "instance_id", cfg.InstanceID)
	} else {
		slog.Info("shutdown notifications disabled",
			"transport_configured", transport != nil,
			"topic", cfg.Topic,
			"instance_id", cfg.InstanceID,
		)
	}
	return g
}

// CanPublish reports whether Notify would call the transport.
func (g *Gate) CanPublish() bool {
	return g.transport != nil && g.cfg.Topic != "" && g.cfg.InstanceID != ""
}

// Topic returns the configured destination.
func (g *Gate) Topic() string {
	return g.cfg.Topic
}

// Notify sends the advisory for reason if the gate is open.
func (g *Gate) Notify(ctx context.Context, reason string) {
	if !g.CanPublish() {
		slog.Warn("shutdown notification was not published because transport, topic or instance id were not configured",
			"reason", reason,
		)
		g.observe(OutcomeSkipped)
		return
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	id := g.cfg.InstanceID
	messageID, err := g.transport.Publish(ctx, g.cfg.Topic, Subject(id), Body(id, reason))
	if err != nil {
		slog.Error("shutdown notification failed",
			"instance_id", id,
			"error", &TransportError{Topic: g.cfg.Topic, Err: err},
		)
		g.observe(OutcomeFailed)
		return
	}

	slog.Info("shutdown notification published",
		"instance_id", id,
		"topic", g.cfg.Topic,
		"message_id", messageID,
	)
	g.observe(OutcomeSent)
}

func (g *Gate) observe(outcome string) {
	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveNotification(outcome)
	}
}
