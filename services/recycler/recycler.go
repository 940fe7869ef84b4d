// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recycler assembles the self-healing recycler service.
//
// # Description
//
// A Service wires the cloud adapter, the recycle guard and workflow, the
// shutdown notification gate, the metrics publisher and scheduler, the
// config watcher and the admin API from one config.Config. Run starts the
// background parts and blocks until its context ends.
//
// # Lifecycle
//
//	New  -> builds every component, nothing runs yet
//	Run  -> scheduler, config watcher and admin API
//	exit -> scheduler stopped, API drained, telemetry flushed
//
// A recycle workflow already in flight is not waited for on exit; the
// instance it runs on is about to be deleted anyway.
package recycler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/cloud/gce"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/config"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics/sources"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/notify"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/observability"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/recycle"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/routes"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/telemetry"
)

const serviceName = "recycler"

// shutdownTimeout bounds draining the admin API and flushing telemetry.
const shutdownTimeout = 10 * time.Second

// Options carry process-level collaborators that do not belong in the
// config file.
//
// # Fields
//
//   - ConfigPath: Watched for metrics.enabled changes. Empty disables it.
//   - Version: Reported as service.version.
//   - GoogleOptions: Appended to every Google API client, e.g. a test
//     endpoint.
//   - Metadata: Metadata client for instance discovery. Nil uses the
//     default client.
//   - Discover: Query the metadata server even when the process does not
//     appear to run on Compute Engine.
//   - Clock: Scheduler time source. Nil uses the wall clock.
//   - Sleeper: Workflow pauses. Nil uses Clock.
type Options struct {
	ConfigPath    string
	Version       string
	GoogleOptions []option.ClientOption
	Metadata      *metadata.Client
	Discover      bool
	Clock         clock.Clock
	Sleeper       recycle.Sleeper
}

// Service is a fully wired recycler.
type Service struct {
	cfg  *config.Config
	opts Options

	instanceID   string
	registry     *prometheus.Registry
	providers    *telemetry.Providers
	observer     *observability.RecyclerMetrics
	orchestrator *recycle.Orchestrator
	guard        *recycle.Guard
	gate         *notify.Gate
	publisher    *metrics.Publisher
	scheduler    *metrics.Scheduler
	router       *gin.Engine

	closeExporter func() error

	// ctx outlives admin requests; scheduler starts are bound to it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Service from cfg.
//
// # Inputs
//
//   - ctx: Bounds client construction and instance discovery.
//   - cfg: A validated configuration.
//   - opts: Process-level collaborators.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Non-nil if a client or exporter cannot be created.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Sleeper == nil {
		opts.Sleeper = opts.Clock
	}

	s := &Service{cfg: cfg, opts: opts, registry: prometheus.NewRegistry()}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.observer = observability.NewRecyclerMetrics(s.registry)

	id := resolveIdentity(ctx, cfg, opts)
	s.instanceID = id.Name

	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: opts.Version,
		InstanceID:     id.Name,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Registerer:     s.registry,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.providers = providers

	if err := s.build(ctx, id); err != nil {
		_ = providers.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context, id gce.Identity) error {
	cfg := s.cfg
	gopts := googleOptions(cfg, s.opts.GoogleOptions)

	adapter, err := newAdapter(ctx, cfg, id, gopts)
	if err != nil {
		return fmt.Errorf("create %s adapter: %w", cfg.Provider, err)
	}

	transport, err := newTransport(ctx, cfg, gopts)
	if err != nil {
		return fmt.Errorf("create notification transport: %w", err)
	}
	s.gate = notify.NewGate(transport, notify.GateConfig{
		Topic:      cfg.Notification.Topic,
		InstanceID: adapter.InstanceID(),
		Timeout:    cfg.RequestTimeout(),
		Observer:   s.observer,
	})

	s.orchestrator = recycle.NewOrchestrator(adapter, recycle.Config{
		InitialWait:            cfg.Recycle.InitialWait(),
		HealthCheckInterval:    cfg.Recycle.HealthCheckInterval(),
		HealthCheckMaxAttempts: cfg.Recycle.HealthCheckMaxAttempts,
		RequestTimeout:         cfg.RequestTimeout(),
		Sleeper:                s.opts.Sleeper,
		Observer:               s.observer,
	})
	s.guard = recycle.NewGuard(adapter, s.orchestrator, s.gate)
	if err := s.observer.RegisterTriggered(s.guard.Triggered); err != nil {
		return err
	}

	exporter, closeExporter, err := newExporter(ctx, cfg, id, s.providers, gopts)
	if err != nil {
		return fmt.Errorf("create %s metric exporter: %w", cfg.Metrics.Exporter, err)
	}
	s.closeExporter = closeExporter

	var ms []metrics.Metric
	if cfg.Metrics.Host {
		ms = sources.Host(cfg.Metrics.DiskPath)
	}
	s.publisher, err = metrics.NewPublisher(exporter, metrics.PublisherConfig{
		Namespace:      cfg.Metrics.Namespace,
		Suffix:         cfg.Metrics.Suffix,
		MaxFailureTags: cfg.Metrics.MaxFailureTags,
	}, ms...)
	if err != nil {
		return err
	}
	if err := s.observer.RegisterFailures(s.publisher.Failures()); err != nil {
		return err
	}

	s.scheduler, err = metrics.NewScheduler(s.publisher, metrics.SchedulerConfig{
		Interval: cfg.Metrics.SleepInterval(),
		Enabled:  cfg.Metrics.Enabled,
		Clock:    s.opts.Clock,
		Observer: s.observer,
	})
	if err != nil {
		return err
	}

	s.router = s.newRouter()
	return nil
}

func (s *Service) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))

	var limiter *rate.Limiter
	if s.cfg.Admin.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Admin.RequestsPerSecond), max(s.cfg.Admin.Burst, 1))
	}

	routes.SetupRoutes(router, routes.Deps{
		Context:        s.ctx,
		InstanceID:     s.instanceID,
		Provider:       s.cfg.Provider,
		RequestTimeout: s.cfg.RequestTimeout(),
		Guard:          s.guard,
		Workflow:       s.orchestrator,
		Scheduler:      s.scheduler,
		Publisher:      s.publisher,
		Metrics:        promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
		Limiter:        limiter,
		Token:          s.cfg.Admin.Token,
	})
	return router
}

// Run starts the scheduler, the config watcher and the admin API, and
// blocks until ctx is cancelled or the API fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.scheduler.Start(s.ctx)

	if s.opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(s.opts.ConfigPath, s.cfg.Metrics.Enabled, s.scheduler.SetEnabled)
		if err != nil {
			slog.Warn("config hot reload unavailable", "path", s.opts.ConfigPath, "error", err)
		} else {
			defer watcher.Stop()
			g.Go(func() error {
				watcher.Start(gctx)
				return nil
			})
		}
	}

	if s.cfg.Admin.Listen != "" {
		server := &http.Server{
			Addr:              s.cfg.Admin.Listen,
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("admin API listening", "addr", s.cfg.Admin.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	slog.Info("recycler running",
		"instance_id", s.instanceID,
		"provider", s.cfg.Provider,
		"metrics_enabled", s.scheduler.IsEnabled(),
		"metrics_interval", s.scheduler.Interval().String(),
	)

	err := g.Wait()
	s.close()
	return err
}

func (s *Service) close() {
	s.scheduler.Stop()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.providers.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	if err := s.closeExporter(); err != nil {
		slog.Warn("metric exporter close failed", "error", err)
	}
	slog.Info("recycler stopped")
}

// Handler returns the admin API handler.
func (s *Service) Handler() http.Handler { return s.router }

// InstanceID returns the resolved instance id, possibly empty.
func (s *Service) InstanceID() string { return s.instanceID }

// Guard returns the recycle latch.
func (s *Service) Guard() *recycle.Guard { return s.guard }

// Orchestrator returns the recycle workflow.
func (s *Service) Orchestrator() *recycle.Orchestrator { return s.orchestrator }

// Scheduler returns the metrics scheduler.
func (s *Service) Scheduler() *metrics.Scheduler { return s.scheduler }

// Publisher returns the metrics publisher. Register application metrics
// on it before or after Run.
func (s *Service) Publisher() *metrics.Publisher { return s.publisher }

// Registry returns the Prometheus registry behind /metrics.
func (s *Service) Registry() *prometheus.Registry { return s.registry }
