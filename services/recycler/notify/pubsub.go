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
	"fmt"
	"strings"

	"google.golang.org/api/option"
	pubsub "google.golang.org/api/pubsub/v1"
)

// SubjectAttribute is the Pub/Sub message attribute carrying the subject.
const SubjectAttribute = "subject"

// PubSub publishes advisories to a Google Cloud Pub/Sub topic.
//
// # Description
//
// The message data is the body; the subject travels as the "subject"
// attribute. Short topic names are expanded to
// "projects/<project>/topics/<name>".
type PubSub struct {
	svc     *pubsub.Service
	project string
}

// NewPubSub creates a Pub/Sub transport for project.
//
// # Inputs
//
//   - ctx: Used to build the client.
//   - project: Default project for short topic names.
//   - opts: Client options, e.g. credentials or a test endpoint.
func NewPubSub(ctx context.Context, project string, opts ...option.ClientOption) (*PubSub, error) {
	svc, err := pubsub.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub transport: create service: %w", err)
	}
	return &PubSub{svc: svc, project: project}, nil
}

// Publish implements Transport.
func (p *PubSub) Publish(ctx context.Context, topic, subject, body string) (string, error) {
	name, err := p.topicName(topic)
	if err != nil {
		return "", err
	}

	req := &pubsub.PublishRequest{
		Messages: []*pubsub.PubsubMessage{{
			Data:       base64.StdEncoding.EncodeToString([]byte(body)),
			Attributes: map[string]string{SubjectAttribute: subject},
		}},
	}
	resp, err := p.svc.Projects.Topics.Publish(name, req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.MessageIds) == 0 {
		return "", fmt.Errorf("pubsub publish to %s returned no message id", name)
	}
	return resp.MessageIds[0], nil
}

func (p *PubSub) topicName(topic string) (string, error) {
	if strings.HasPrefix(topic, "projects/") {
		return topic, nil
	}
	if p.project == "" {
		return "", fmt.Errorf("pubsub topic %q needs a project", topic)
	}
	return fmt.Sprintf("projects/%s/topics/%s", p.project, topic), nil
}
