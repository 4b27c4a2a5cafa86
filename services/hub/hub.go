// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hub is the development server for govchat clients.
//
// It speaks the client's chat protocol over WebSocket, answers from a
// static regulation catalog, persists finished turns in BadgerDB (with
// credentials and personal data scrubbed from the query) and
// serves the REST collaborators (history, permissions) the client reads.
//
// # Usage
//
//	svc, err := hub.New(cfg, nil, logger, nil)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
//
// A deployment in front of a real identity provider passes its own
// extensions.ServiceOptions instead of nil.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/AleutianAI/govchat/services/hub/handlers"
	"github.com/AleutianAI/govchat/services/hub/middleware"
	"github.com/AleutianAI/govchat/services/hub/redact"
	"github.com/AleutianAI/govchat/services/hub/routes"
	"github.com/AleutianAI/govchat/services/hub/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "govchat-hub"

// =============================================================================
// Configuration
// =============================================================================

// Config configures the hub.
type Config struct {
	// Listen is the HTTP address, e.g. "127.0.0.1:8080".
	Listen string

	// DataDir holds the turn store. Ignored when InMemory.
	DataDir  string
	InMemory bool

	// Tokens maps accepted bearer tokens to role names. Ignored when
	// ServiceOptions are passed to New.
	Tokens map[string][]string

	// PermissionsFile overrides access.DefaultRoles.
	PermissionsFile string

	// CatalogFile overrides the built-in regulation catalog.
	CatalogFile string

	// RedactionFile overrides the built-in redaction patterns.
	RedactionFile string

	// RoutingMarkers must match the clients' table. Nil means the default.
	RoutingMarkers map[string]string

	TokensPerSecond float64
	PingInterval    time.Duration
	SendDone        bool

	// ExternalMetrics leaves /metrics off the main router because the
	// caller serves MetricsHandler on its own listener.
	ExternalMetrics bool

	Tracing TracingConfig
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.TokensPerSecond == 0 {
		cfg.TokensPerSecond = 40
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 25 * time.Second
	}
	return cfg
}

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the hub lifecycle.
//
// # Thread Safety
//
// Run and Serve block and should be called once. Close must be called
// after they return.
type Service interface {
	// Run listens on Config.Listen and serves until ctx is done.
	Run(ctx context.Context) error

	// Serve serves on ln until ctx is done.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the Gin engine for tests.
	Router() *gin.Engine

	// MetricsHandler serves the hub's Prometheus registry.
	MetricsHandler() http.Handler

	// Close releases the store and flushes traces.
	Close() error
}

type service struct {
	config   Config
	router   *gin.Engine
	store    *store.Store
	registry *prometheus.Registry
	logger   *slog.Logger

	tracerShutdown func(context.Context) error
}

// New creates the hub.
//
// # Inputs
//
//   - cfg: Hub configuration. Zero values get defaults.
//   - opts: Identity and permission providers. Nil uses static tokens
//     from cfg.Tokens and the role table from cfg.PermissionsFile.
//   - logger: Nil uses slog.Default().
//   - reg: Registry for hub metrics. Nil creates one with Go and process
//     collectors.
func New(cfg Config, opts *extensions.ServiceOptions, logger *slog.Logger, reg *prometheus.Registry) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if opts == nil {
		var roles access.Roles
		if cfg.PermissionsFile != "" {
			r, err := access.LoadRolesFile(cfg.PermissionsFile)
			if err != nil {
				return nil, err
			}
			roles = r
		}
		defaults := extensions.DefaultOptions(cfg.Tokens, roles)
		opts = &defaults
	}

	catalog := handlers.DefaultCatalog()
	if cfg.CatalogFile != "" {
		c, err := handlers.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	redactor, err := loadRedactor(cfg.RedactionFile)
	if err != nil {
		return nil, err
	}

	storeCfg := store.InMemoryConfig()
	if !cfg.InMemory {
		if cfg.DataDir == "" {
			return nil, errors.New("hub: data dir is required unless in memory")
		}
		storeCfg = store.DefaultConfig(cfg.DataDir)
	}
	storeCfg.Logger = logger.With("component", "badger")
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open turn store: %w", err)
	}

	tracerShutdown, err := initTracer(context.Background(), cfg.Tracing, serviceName)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	s := &service{
		config:         cfg,
		store:          st,
		registry:       reg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}
	s.initRouter(*opts, catalog, redactor)

	logger.Info("hub initialized",
		"listen", cfg.Listen,
		"in_memory", cfg.InMemory,
		"catalog_records", len(catalog.Records),
		"tokens", len(cfg.Tokens),
		"send_done", cfg.SendDone,
		"trace_exporter", cfg.Tracing.Exporter)
	return s, nil
}

func (s *service) initRouter(opts extensions.ServiceOptions, catalog handlers.Catalog, redactor *redact.Redactor) {
	metrics := observability.NewHubMetrics(s.registry)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(middleware.RequestLogger(s.logger))

	deps := routes.Deps{
		Options: opts,
		Metrics: metrics,
		Logger:  s.logger,
		Chat: handlers.ChatDeps{
			Responder:       handlers.NewCatalogResponder(catalog),
			Store:           s.store,
			Authz:           opts.AuthzProvider,
			Metrics:         metrics,
			Logger:          s.logger,
			Redactor:        redactor,
			Markers:         s.config.RoutingMarkers,
			TokensPerSecond: s.config.TokensPerSecond,
			PingInterval:    s.config.PingInterval,
			SendDone:        s.config.SendDone,
		},
	}
	if !s.config.ExternalMetrics {
		deps.MetricsHandler = s.MetricsHandler()
	}
	routes.SetupRoutes(s.router, deps)
}

func loadRedactor(path string) (*redact.Redactor, error) {
	if path == "" {
		return redact.New()
	}
	return redact.LoadFile(path)
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve implements Service.
//
// Request contexts derive from ctx, so open chat sockets end when ctx is
// done even though Shutdown does not track hijacked connections.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting hub server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down hub server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// MetricsHandler implements Service.
func (s *service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Close implements Service.
func (s *service) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := s.tracerShutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}
