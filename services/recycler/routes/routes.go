// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes exposes the recycler's management API.
//
//	GET  /health               liveness
//	GET  /metrics              Prometheus exposition
//	GET  /v1/status            latch, workflow and scheduler state
//	POST /v1/recycle           request a recycle (202)
//	PUT  /v1/metrics/enabled   toggle publishing
//	POST /v1/metrics/start     start the scheduler
//	POST /v1/metrics/stop      stop the scheduler
//
// Every /v1 route shares one token bucket; an empty bucket answers 429.
// When a token is configured, /v1 also requires "Authorization: Bearer".
package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/recycle"
)

// Recycler accepts recycle requests. *recycle.Guard implements it.
type Recycler interface {
	RequestRecycle(ctx context.Context, reason string)
	Triggered() bool
	Request() (recycle.Request, bool)
}

// WorkflowStatus reports workflow progress. *recycle.Orchestrator
// implements it.
type WorkflowStatus interface {
	Status() recycle.Status
}

// MetricsControl is the scheduler surface. *metrics.Scheduler implements it.
type MetricsControl interface {
	Start(ctx context.Context)
	Stop()
	SetEnabled(enabled bool)
	IsEnabled() bool
	IsRunning() bool
	Interval() time.Duration
}

// FailureSource reports publish failures. *metrics.Publisher implements it.
type FailureSource interface {
	FailedPublishing() map[string]int64
	Namespace() string
}

// Deps are the components behind the API.
//
// # Fields
//
//   - Context: Lifetime of the service. Scheduler starts are bound to it,
//     not to the request.
//   - InstanceID, Provider, RequestTimeout: Reported by /v1/status.
//   - Guard, Workflow: Required.
//   - Scheduler, Publisher: Optional; nil makes the metrics routes 404.
//   - Metrics: Handler for /metrics. Nil omits the route.
//   - Limiter: Shared token bucket for /v1. Nil disables limiting.
//   - Token: Bearer token for /v1. Empty disables authentication.
type Deps struct {
	Context        context.Context
	InstanceID     string
	Provider       string
	RequestTimeout time.Duration

	Guard     Recycler
	Workflow  WorkflowStatus
	Scheduler MetricsControl
	Publisher FailureSource

	Metrics http.Handler
	Limiter *rate.Limiter
	Token   string
}

// SetupRoutes registers the management API on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	h := &handlers{deps: deps}

	router.GET("/health", h.health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(RateLimit(deps.Limiter), BearerAuth(deps.Token))
	{
		v1.GET("/status", h.status)
		v1.POST("/recycle", h.recycle)

		if deps.Scheduler != nil {
			m := v1.Group("/metrics")
			{
				m.PUT("/enabled", h.setMetricsEnabled)
				m.POST("/start", h.startMetrics)
				m.POST("/stop", h.stopMetrics)
			}
		}
	}
}

// RateLimit rejects requests with 429 once limiter is exhausted. A nil
// limiter lets everything through.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
