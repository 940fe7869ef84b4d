// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gce

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/compute/metadata"
)

// Identity is what the metadata server knows about this instance.
type Identity struct {
	Project string
	Zone    string
	Name    string

	// ID is the numeric instance id, used by Cloud Monitoring resources.
	ID string

	// InstanceGroup is the MIG that created the instance, if any.
	InstanceGroup string
}

// DiscoverInstance reads the instance identity from the metadata server.
//
// # Inputs
//
//   - ctx: Bounds the metadata requests.
//   - client: Metadata client; nil uses the default client.
//
// # Outputs
//
//   - Identity: InstanceGroup is empty when the instance was not created
//     by a managed instance group.
//   - error: Non-nil when project, zone, name or id cannot be read.
func DiscoverInstance(ctx context.Context, client *metadata.Client) (Identity, error) {
	if client == nil {
		client = metadata.NewClient(nil)
	}

	var (
		id  Identity
		err error
	)
	if id.Project, err = client.ProjectIDWithContext(ctx); err != nil {
		return Identity{}, fmt.Errorf("metadata project id: %w", err)
	}
	if id.Zone, err = client.ZoneWithContext(ctx); err != nil {
		return Identity{}, fmt.Errorf("metadata zone: %w", err)
	}
	if id.Name, err = client.InstanceNameWithContext(ctx); err != nil {
		return Identity{}, fmt.Errorf("metadata instance name: %w", err)
	}
	if id.ID, err = client.InstanceIDWithContext(ctx); err != nil {
		return Identity{}, fmt.Errorf("metadata instance id: %w", err)
	}

	// created-by is absent for standalone instances.
	if createdBy, err := client.InstanceAttributeValueWithContext(ctx, "created-by"); err == nil {
		id.InstanceGroup = groupFromCreatedBy(createdBy)
	}
	return id, nil
}

// groupFromCreatedBy extracts the MIG name from a created-by value such as
// "projects/123/zones/europe-west4-a/instanceGroupManagers/workers".
func groupFromCreatedBy(createdBy string) string {
	parts := strings.Split(strings.TrimSpace(createdBy), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "instanceGroupManagers" {
			return parts[i+1]
		}
	}
	return ""
}

// OnGCE reports whether the process runs on Compute Engine.
func OnGCE() bool {
	return metadata.OnGCE()
}
