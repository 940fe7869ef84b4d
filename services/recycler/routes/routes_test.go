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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/recycle"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

type fakeGuard struct {
	mu      sync.Mutex
	reasons []string
	req     *recycle.Request
}

func (g *fakeGuard) RequestRecycle(_ context.Context, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reasons = append(g.reasons, reason)
	if g.req == nil {
		r := recycle.Request{Reason: reason, RunID: "run-1"}
		g.req = &r
	}
}

func (g *fakeGuard) Triggered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.req != nil
}

func (g *fakeGuard) Request() (recycle.Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.req == nil {
		return recycle.Request{}, false
	}
	return *g.req, true
}

type fakeWorkflow struct{ status recycle.Status }

func (w *fakeWorkflow) Status() recycle.Status { return w.status }

type fakeScheduler struct {
	mu       sync.Mutex
	enabled  bool
	running  bool
	startCtx context.Context
}

func (s *fakeScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.startCtx = ctx
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *fakeScheduler) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}

func (s *fakeScheduler) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeScheduler) Interval() time.Duration { return time.Minute }

type fakePublisher struct{}

func (fakePublisher) FailedPublishing() map[string]int64 { return map[string]int64{"cpu": 2} }
func (fakePublisher) Namespace() string { return "recycler" }

type ctxKey struct{}

func newTestRouter(deps Deps) *gin.Engine {
	router := gin.New()
	SetupRoutes(router, deps)
	return router
}

func testDeps() (Deps, *fakeGuard, *fakeScheduler) {
	guard := &fakeGuard{}
	sched := &fakeScheduler{}
	return Deps{
		Context:        context.WithValue(context.Background(), ctxKey{}, "service"),
		InstanceID:     "vm-1",
		Provider:       "dryrun",
		RequestTimeout: 30 * time.Second,
		Guard:          guard,
		Workflow:       &fakeWorkflow{status: recycle.Status{State: recycle.StateWaitingHealthy, HealthChecks: 3}},
		Scheduler:      sched,
		Publisher:      fakePublisher{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("recycler_triggered 0\n"))
		}),
	}, guard, sched
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Route Tests
// =============================================================================

func TestSetupRoutes_Registered(t *testing.T) {
	deps, _, _ := testDeps()
	router := newTestRouter(deps)

	want := map[string]bool{
		"GET /health":             false,
		"GET /metrics":            false,
		"GET /v1/status":          false,
		"POST /v1/recycle":        false,
		"PUT /v1/metrics/enabled": false,
		"POST /v1/metrics/start":  false,
		"POST /v1/metrics/stop":   false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

func TestSetupRoutes_WithoutScheduler(t *testing.T) {
	deps, _, _ := testDeps()
	deps.Scheduler = nil
	deps.Metrics = nil
	router := newTestRouter(deps)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/v1/metrics/start", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/metrics", "").Code)

	w := do(router, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Metrics)
}

func TestHealth(t *testing.T) {
	deps, _, _ := testDeps()
	w := do(newTestRouter(deps), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	deps, _, _ := testDeps()
	w := do(newTestRouter(deps), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recycler_triggered")
}

func TestStatus(t *testing.T) {
	deps, _, sched := testDeps()
	sched.enabled = true
	router := newTestRouter(deps)

	w := do(router, http.MethodGet, "/v1/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "vm-1", resp.InstanceID)
	assert.Equal(t, "dryrun", resp.Provider)
	assert.Equal(t, 30.0, resp.RequestTimeoutSeconds)
	assert.False(t, resp.Triggered)
	assert.Equal(t, "waiting_healthy", resp.Workflow.State)
	assert.Equal(t, 3, resp.Workflow.HealthChecks)
	assert.Nil(t, resp.Workflow.StartedAt)
	require.NotNil(t, resp.Metrics)
	assert.True(t, resp.Metrics.Enabled)
	assert.Equal(t, 60.0, resp.Metrics.IntervalSeconds)
	assert.Equal(t, "recycler", resp.Metrics.Namespace)
	assert.Equal(t, map[string]int64{"cpu": 2}, resp.Metrics.FailedPublishing)
}

func TestRecycle_Accepted(t *testing.T) {
	deps, guard, _ := testDeps()
	router := newTestRouter(deps)

	w := do(router, http.MethodPost, "/v1/recycle", `{"reason":"disk full"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp RecycleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Triggered)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, []string{"disk full"}, guard.reasons)
}

func TestRecycle_SecondRequestStillAccepted(t *testing.T) {
	deps, guard, _ := testDeps()
	router := newTestRouter(deps)

	do(router, http.MethodPost, "/v1/recycle", `{"reason":"first"}`)
	w := do(router, http.MethodPost, "/v1/recycle", `{"reason":"second"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	req, ok := guard.Request()
	require.True(t, ok)
	assert.Equal(t, "first", req.Reason)
}

func TestRecycle_BadBody(t *testing.T) {
	deps, guard, _ := testDeps()
	router := newTestRouter(deps)

	for _, body := range []string{``, `{}`, `{"reason":""}`, `not json`} {
		w := do(router, http.MethodPost, "/v1/recycle", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
	assert.Empty(t, guard.reasons)
}

func TestMetricsEnabled(t *testing.T) {
	deps, _, sched := testDeps()
	router := newTestRouter(deps)

	w := do(router, http.MethodPut, "/v1/metrics/enabled", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sched.IsEnabled())

	w = do(router, http.MethodPut, "/v1/metrics/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sched.IsEnabled())

	w = do(router, http.MethodPut, "/v1/metrics/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsStartStop(t *testing.T) {
	deps, _, sched := testDeps()
	router := newTestRouter(deps)

	w := do(router, http.MethodPost, "/v1/metrics/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sched.IsRunning())
	assert.Equal(t, "service", sched.startCtx.Value(ctxKey{}), "scheduler bound to the service context")

	w = do(router, http.MethodPost, "/v1/metrics/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sched.IsRunning())
}

// =============================================================================
// Rate Limit Tests
// =============================================================================

func TestRateLimit(t *testing.T) {
	deps, _, _ := testDeps()
	deps.Limiter = rate.NewLimiter(rate.Every(time.Hour), 2)
	router := newTestRouter(deps)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/v1/status", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/v1/status", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, http.MethodGet, "/v1/status", "").Code)

	// Liveness is outside the bucket.
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "").Code)
}

func TestRateLimit_NilLimiter(t *testing.T) {
	deps, _, _ := testDeps()
	router := newTestRouter(deps)

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, do(router, http.MethodGet, "/v1/status", "").Code)
	}
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestBearerAuth(t *testing.T) {
	deps, guard, _ := testDeps()
	deps.Token = "s3cret"
	router := newTestRouter(deps)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"valid token", "Bearer s3cret", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/recycle", strings.NewReader(`{"reason":"disk full"}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	assert.Len(t, guard.reasons, 1)

	// Liveness and exposition stay open.
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/metrics", "").Code)
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("abc")
	assert.False(t, ok)
}
