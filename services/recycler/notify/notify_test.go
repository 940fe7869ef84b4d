// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	pubsub "google.golang.org/api/pubsub/v1"
)

// =============================================================================
// Test Doubles
// =============================================================================

type publishCall struct {
	topic, subject, body string
	hasDeadline          bool
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (f *fakeTransport) Publish(ctx context.Context, topic, subject, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := ctx.Deadline()
	f.calls = append(f.calls, publishCall{topic, subject, body, ok})
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) ObserveNotification(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, outcome)
}

// =============================================================================
// Gate Tests
// =============================================================================

func TestGate_Publishes(t *testing.T) {
	tr := &fakeTransport{}
	obs := &outcomes{}
	g := NewGate(tr, GateConfig{Topic: "recycling", InstanceID: "vm-1", Timeout: time.Second, Observer: obs})

	require.True(t, g.CanPublish())
	g.Notify(context.Background(), "disk full")

	require.Len(t, tr.calls, 1)
	assert.Equal(t, publishCall{
		topic:       "recycling",
		subject:     "VM self-termination triggered on vm-1",
		body:        "VM instance 'vm-1' needs to be replaced: disk full",
		hasDeadline: true,
	}, tr.calls[0])
	assert.Equal(t, []string{OutcomeSent}, obs.got)
}

// TestGate_EmptyTopicSkips verifies an empty topic results in zero
// transport calls.
func TestGate_EmptyTopicSkips(t *testing.T) {
	tr := &fakeTransport{}
	obs := &outcomes{}
	g := NewGate(tr, GateConfig{InstanceID: "vm-1", Observer: obs})

	g.Notify(context.Background(), "disk full")

	assert.False(t, g.CanPublish())
	assert.Empty(t, tr.calls)
	assert.Equal(t, []string{OutcomeSkipped}, obs.got)
}

func TestGate_EmptyInstanceIDSkips(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(tr, GateConfig{Topic: "recycling"})

	g.Notify(context.Background(), "x")

	assert.Empty(t, tr.calls)
}

func TestGate_NilTransportSkips(t *testing.T) {
	g := NewGate(nil, GateConfig{Topic: "recycling", InstanceID: "vm-1"})

	assert.False(t, g.CanPublish())
	assert.NotPanics(t, func() { g.Notify(context.Background(), "x") })
}

func TestGate_TransportErrorSwallowed(t *testing.T) {
	tr := &fakeTransport{err: errors.New("permission denied")}
	obs := &outcomes{}
	g := NewGate(tr, GateConfig{Topic: "recycling", InstanceID: "vm-1", Observer: obs})

	assert.NotPanics(t, func() { g.Notify(context.Background(), "x") })
	assert.Len(t, tr.calls, 1)
	assert.Equal(t, []string{OutcomeFailed}, obs.got)
}

func TestGate_NoTimeoutWhenZero(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(tr, GateConfig{Topic: "recycling", InstanceID: "vm-1"})

	g.Notify(context.Background(), "x")

	require.Len(t, tr.calls, 1)
	assert.False(t, tr.calls[0].hasDeadline)
}

func TestTransportError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&TransportError{Topic: "t", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "publish to t: boom", err.Error())
}

// =============================================================================
// Pub/Sub Tests
// =============================================================================

func newPubSubServer(t *testing.T, status int, resp string) (*httptest.Server, *pubsub.PublishRequest, *string) {
	t.Helper()
	var (
		got  pubsub.PublishRequest
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &path
}

func TestPubSub_Publish(t *testing.T) {
	srv, got, path := newPubSubServer(t, http.StatusOK, `{"messageIds":["42"]}`)
	tr, err := NewPubSub(context.Background(), "proj",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	id, err := tr.Publish(context.Background(), "recycling", "subj", "hello")

	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "/v1/projects/proj/topics/recycling:publish", *path)
	require.Len(t, got.Messages, 1)
	data, err := base64.StdEncoding.DecodeString(got.Messages[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "subj", got.Messages[0].Attributes[SubjectAttribute])
}

func TestPubSub_FullTopicName(t *testing.T) {
	srv, _, path := newPubSubServer(t, http.StatusOK, `{"messageIds":["1"]}`)
	tr, err := NewPubSub(context.Background(), "",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = tr.Publish(context.Background(), "projects/other/topics/ops", "s", "b")

	require.NoError(t, err)
	assert.Equal(t, "/v1/projects/other/topics/ops:publish", *path)
}

func TestPubSub_ShortTopicWithoutProject(t *testing.T) {
	tr, err := NewPubSub(context.Background(), "", option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = tr.Publish(context.Background(), "recycling", "s", "b")
	assert.Error(t, err)
}

func TestPubSub_ServerError(t *testing.T) {
	srv, _, _ := newPubSubServer(t, http.StatusForbidden, `{"error":{"code":403,"message":"denied"}}`)
	tr, err := NewPubSub(context.Background(), "proj",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = tr.Publish(context.Background(), "recycling", "s", "b")
	assert.Error(t, err)
}

func TestPubSub_NoMessageID(t *testing.T) {
	srv, _, _ := newPubSubServer(t, http.StatusOK, `{}`)
	tr, err := NewPubSub(context.Background(), "proj",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = tr.Publish(context.Background(), "recycling", "s", "b")
	assert.Error(t, err)
}

func TestPubSub_WorksBehindGate(t *testing.T) {
	srv, got, _ := newPubSubServer(t, http.StatusOK, `{"messageIds":["7"]}`)
	tr, err := NewPubSub(context.Background(), "proj",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	g := NewGate(tr, GateConfig{Topic: "recycling", InstanceID: "vm-9"})

	g.Notify(context.Background(), "memory leak")

	require.Len(t, got.Messages, 1)
	assert.Equal(t, Subject("vm-9"), got.Messages[0].Attributes[SubjectAttribute])
}
