// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gce recycles instances of a Google Compute Engine managed
// instance group.
//
// # Description
//
// The fleet is a zonal managed instance group (MIG) behind a backend
// service:
//
//   - ScaleOut doubles the MIG target size.
//   - IsHealthy asks the backend service for the health of the MIG's
//     instances; healthy means none is reported other than HEALTHY.
//   - RetireSelf deletes this instance through the MIG, which also lowers
//     the target size by one.
//
// Operations are submitted and not awaited; the recycle workflow's health
// wait covers the time the fleet needs to converge.
package gce

import (
	"context"
	"fmt"
	"log/slog"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// healthy is the backend health state counted as serving.
const healthy = "HEALTHY"

// Config identifies the fleet this instance belongs to.
type Config struct {
	Project string
	Zone    string

	// InstanceGroup is the MIG name.
	InstanceGroup string

	// BackendService is the backend service fronting the MIG.
	BackendService string

	// Region selects a regional backend service. Empty means global.
	Region string

	// InstanceName is this instance's name within the zone.
	InstanceName string
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	switch {
	case c.Project == "":
		return fmt.Errorf("gce: project is required")
	case c.Zone == "":
		return fmt.Errorf("gce: zone is required")
	case c.InstanceGroup == "":
		return fmt.Errorf("gce: instance group is required")
	case c.BackendService == "":
		return fmt.Errorf("gce: backend service is required")
	}
	return nil
}

// Adapter implements recycle.CloudAdapter on Compute Engine.
//
// # Thread Safety
//
// Safe for concurrent use; the compute client is.
type Adapter struct {
	svc *compute.Service
	cfg Config
}

// New creates an Adapter.
//
// # Inputs
//
//   - ctx: Used to build the client.
//   - cfg: Fleet identity. InstanceName may be empty, which makes every
//     recycle request an invalid setup.
//   - opts: Client options such as option.WithCredentialsFile.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	return &Adapter{svc: svc, cfg: cfg}, nil
}

// InstanceID returns the configured instance name.
func (a *Adapter) InstanceID() string {
	return a.cfg.InstanceName
}

// ScaleOut resizes the MIG to twice its current target size.
func (a *Adapter) ScaleOut(ctx context.Context) error {
	mig, err := a.instanceGroupManager(ctx)
	if err != nil {
		return err
	}

	size := mig.TargetSize * 2
	if size == 0 {
		size = 1
	}

	op, err := a.svc.InstanceGroupManagers.Resize(a.cfg.Project, a.cfg.Zone, a.cfg.InstanceGroup, size).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("resize instance group %s to %d: %w", a.cfg.InstanceGroup, size, err)
	}

	slog.Info("instance group resize submitted",
		"instance_group", a.cfg.InstanceGroup,
		"from", mig.TargetSize,
		"to", size,
		"operation", op.Name,
	)
	return nil
}

// IsHealthy reports whether every instance of the MIG is HEALTHY in the
// backend service. An empty report counts as healthy.
func (a *Adapter) IsHealthy(ctx context.Context) (bool, error) {
	mig, err := a.instanceGroupManager(ctx)
	if err != nil {
		return false, err
	}

	ref := &compute.ResourceGroupReference{Group: mig.InstanceGroup}
	var health *compute.BackendServiceGroupHealth
	if a.cfg.Region != "" {
		health, err = a.svc.RegionBackendServices.GetHealth(a.cfg.Project, a.cfg.Region, a.cfg.BackendService, ref).
			Context(ctx).Do()
	} else {
		health, err = a.svc.BackendServices.GetHealth(a.cfg.Project, a.cfg.BackendService, ref).
			Context(ctx).Do()
	}
	if err != nil {
		return false, fmt.Errorf("get health of backend service %s: %w", a.cfg.BackendService, err)
	}

	unhealthy := 0
	for _, s := range health.HealthStatus {
		if s.HealthState != healthy {
			unhealthy++
		}
	}

	slog.Info("backend health checked",
		"backend_service", a.cfg.BackendService,
		"unhealthy", unhealthy,
		"total", len(health.HealthStatus),
	)
	return unhealthy == 0, nil
}

// RetireSelf deletes this instance through the MIG, decrementing its
// target size in the same operation.
func (a *Adapter) RetireSelf(ctx context.Context) error {
	if a.cfg.InstanceName == "" {
		return fmt.Errorf("gce: instance name is unknown")
	}

	req := &compute.InstanceGroupManagersDeleteInstancesRequest{
		Instances: []string{a.instanceURL()},
	}
	op, err := a.svc.InstanceGroupManagers.DeleteInstances(a.cfg.Project, a.cfg.Zone, a.cfg.InstanceGroup, req).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete instance %s from group %s: %w", a.cfg.InstanceName, a.cfg.InstanceGroup, err)
	}

	slog.Info("instance deletion submitted",
		"instance", a.cfg.InstanceName,
		"instance_group", a.cfg.InstanceGroup,
		"operation", op.Name,
	)
	return nil
}

func (a *Adapter) instanceGroupManager(ctx context.Context) (*compute.InstanceGroupManager, error) {
	mig, err := a.svc.InstanceGroupManagers.Get(a.cfg.Project, a.cfg.Zone, a.cfg.InstanceGroup).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get instance group %s: %w", a.cfg.InstanceGroup, err)
	}
	return mig, nil
}

// instanceURL is the partial URL accepted by deleteInstances.
func (a *Adapter) instanceURL() string {
	return fmt.Sprintf("zones/%s/instances/%s", a.cfg.Zone, a.cfg.InstanceName)
}
