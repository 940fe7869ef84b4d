// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recycler

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/cloud/dryrun"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/cloud/gce"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/config"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics/exporters"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/notify"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/recycle"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/telemetry"
)

// googleOptions are the client options shared by every Google API client.
func googleOptions(cfg *config.Config, extra []option.ClientOption) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.GCE.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCE.CredentialsFile))
	}
	return append(opts, extra...)
}

// resolveIdentity fills in what the metadata server knows when running on
// Compute Engine with provider gce. The configured instance id wins.
func resolveIdentity(ctx context.Context, cfg *config.Config, opts Options) gce.Identity {
	id := gce.Identity{
		Project: cfg.GCE.Project,
		Zone:    cfg.GCE.Zone,
		Name:    cfg.InstanceID,
	}
	if cfg.Provider != config.ProviderGCE || (cfg.InstanceID != "" && !opts.Discover) {
		return id
	}
	if !opts.Discover && !gce.OnGCE() {
		slog.Warn("not running on Compute Engine and no instance_id configured; recycle requests will be ignored")
		return id
	}

	found, err := gce.DiscoverInstance(ctx, opts.Metadata)
	if err != nil {
		slog.Warn("instance discovery failed", "error", err)
		return id
	}
	if id.Name == "" {
		id.Name = found.Name
	}
	id.ID = found.ID
	id.InstanceGroup = found.InstanceGroup
	if id.Zone == "" {
		id.Zone = found.Zone
	}
	slog.Info("instance discovered",
		"instance", found.Name,
		"zone", found.Zone,
		"instance_group", found.InstanceGroup,
	)
	return id
}

func newAdapter(ctx context.Context, cfg *config.Config, id gce.Identity, gopts []option.ClientOption) (recycle.CloudAdapter, error) {
	switch cfg.Provider {
	case config.ProviderDryRun:
		return dryrun.New(id.Name), nil
	case config.ProviderGCE:
		return gce.New(ctx, gce.Config{
			Project:        cfg.GCE.Project,
			Zone:           cfg.GCE.Zone,
			InstanceGroup:  cfg.GCE.InstanceGroup,
			BackendService: cfg.GCE.BackendService,
			Region:         cfg.GCE.Region,
			InstanceName:   id.Name,
		}, gopts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newTransport(ctx context.Context, cfg *config.Config, gopts []option.ClientOption) (notify.Transport, error) {
	if cfg.Notification.Transport != config.TransportPubSub || cfg.Notification.Topic == "" {
		return nil, nil
	}
	ps, err := notify.NewPubSub(ctx, cfg.GCE.Project, gopts...)
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// newExporter returns the configured exporter and a close function.
func newExporter(ctx context.Context, cfg *config.Config, id gce.Identity, providers *telemetry.Providers,
	gopts []option.ClientOption) (metrics.Exporter, func() error, error) {

	noClose := func() error { return nil }

	switch cfg.Metrics.Exporter {
	case config.ExporterGCP:
		exp, err := exporters.NewMonitoring(ctx, exporters.MonitoringConfig{
			Project:    cfg.GCE.Project,
			Zone:       id.Zone,
			InstanceID: id.ID,
			Options:    gopts,
		})
		if err != nil {
			return nil, nil, err
		}
		return exp, noClose, nil

	case config.ExporterInfluxDB:
		exp, err := exporters.NewInflux(exporters.InfluxConfig{
			URL:    cfg.InfluxDB.URL,
			Token:  cfg.InfluxDB.Token,
			Org:    cfg.InfluxDB.Org,
			Bucket: cfg.InfluxDB.Bucket,
			Host:   id.Name,
		})
		if err != nil {
			return nil, nil, err
		}
		return exp, exp.Close, nil

	case config.ExporterOTel:
		return exporters.NewOTel(providers.Meter(serviceName)), noClose, nil

	default:
		return exporters.Log{}, noClose, nil
	}
}
