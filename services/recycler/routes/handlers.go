// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RecycleRequest is the body of POST /v1/recycle.
type RecycleRequest struct {
	Reason string `json:"reason" binding:"required,max=1024"`
}

// RecycleResponse reports the latch after the request was handed over.
type RecycleResponse struct {
	Triggered bool   `json:"triggered"`
	RunID     string `json:"run_id,omitempty"`
}

// MetricsEnabledRequest is the body of PUT /v1/metrics/enabled.
type MetricsEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	InstanceID            string           `json:"instance_id"`
	Provider              string           `json:"provider"`
	RequestTimeoutSeconds float64          `json:"request_timeout_seconds"`
	Triggered             bool             `json:"triggered"`
	Workflow              WorkflowResponse `json:"workflow"`
	Metrics               *MetricsResponse `json:"metrics,omitempty"`
}

type WorkflowResponse struct {
	State        string     `json:"state"`
	RunID        string     `json:"run_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	HealthChecks int        `json:"health_checks"`
	Error        string     `json:"error,omitempty"`
}

type MetricsResponse struct {
	Enabled          bool             `json:"enabled"`
	Running          bool             `json:"running"`
	IntervalSeconds  float64          `json:"interval_seconds"`
	Namespace        string           `json:"namespace,omitempty"`
	FailedPublishing map[string]int64 `json:"failed_publishing,omitempty"`
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) status(c *gin.Context) {
	st := h.deps.Workflow.Status()
	resp := StatusResponse{
		InstanceID:            h.deps.InstanceID,
		Provider:              h.deps.Provider,
		RequestTimeoutSeconds: h.deps.RequestTimeout.Seconds(),
		Triggered:             h.deps.Guard.Triggered(),
		Workflow: WorkflowResponse{
			State:        st.State.String(),
			RunID:        st.RunID,
			Reason:       st.Reason,
			StartedAt:    timePtr(st.StartedAt),
			FinishedAt:   timePtr(st.FinishedAt),
			HealthChecks: st.HealthChecks,
			Error:        st.Error,
		},
	}

	if s := h.deps.Scheduler; s != nil {
		resp.Metrics = &MetricsResponse{
			Enabled:         s.IsEnabled(),
			Running:         s.IsRunning(),
			IntervalSeconds: s.Interval().Seconds(),
		}
		if p := h.deps.Publisher; p != nil {
			resp.Metrics.Namespace = p.Namespace()
			resp.Metrics.FailedPublishing = p.FailedPublishing()
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handlers) recycle(c *gin.Context) {
	var req RecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slog.Info("recycle requested over the admin API", "reason", req.Reason, "client_ip", c.ClientIP())
	h.deps.Guard.RequestRecycle(c.Request.Context(), req.Reason)

	resp := RecycleResponse{Triggered: h.deps.Guard.Triggered()}
	if accepted, ok := h.deps.Guard.Request(); ok {
		resp.RunID = accepted.RunID
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *handlers) setMetricsEnabled(c *gin.Context) {
	var req MetricsEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.deps.Scheduler.SetEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": h.deps.Scheduler.IsEnabled()})
}

func (h *handlers) startMetrics(c *gin.Context) {
	h.deps.Scheduler.Start(h.deps.Context)
	c.JSON(http.StatusOK, gin.H{"running": h.deps.Scheduler.IsRunning()})
}

func (h *handlers) stopMetrics(c *gin.Context) {
	h.deps.Scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"running": h.deps.Scheduler.IsRunning()})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
