// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/govchat/cmd/govchat/config"
	"github.com/AleutianAI/govchat/services/hub"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// defaultHubDataDir is used when hub.data_dir is empty.
const defaultHubDataDir = "~/.govchat/hub"

type serveFlags struct {
	listen        string
	metricsListen string
	inMemory      bool
	noDone        bool
}

func (a *app) serveCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development hub until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, f)
		},
	}
	cmd.Flags().StringVar(&f.listen, "listen", "", "HTTP address (default hub.listen)")
	cmd.Flags().StringVar(&f.metricsListen, "metrics-listen", "", "serve /metrics on a separate address")
	cmd.Flags().BoolVar(&f.inMemory, "in-memory", false, "keep turns in memory only")
	cmd.Flags().BoolVar(&f.noDone, "no-done", false, "omit done frames so clients finalize on idle")
	return cmd
}

// hubConfig maps the config file and flags onto hub.Config and returns
// the metrics address, empty when /metrics stays on the main router.
func (a *app) hubConfig(f serveFlags) (hub.Config, string) {
	h := a.cfg.Hub
	cfg := hub.Config{
		Listen:          h.Listen,
		DataDir:         h.DataDir,
		InMemory:        h.InMemory || f.inMemory,
		Tokens:          h.Tokens,
		PermissionsFile: config.ExpandPath(h.PermissionsFile),
		CatalogFile:     config.ExpandPath(h.CatalogFile),
		RedactionFile:   config.ExpandPath(h.RedactionFile),
		RoutingMarkers:  a.cfg.Chat.RoutingMarkers,
		TokensPerSecond: h.TokensPerSecond,
		PingInterval:    h.PingInterval.Std(),
		SendDone:        h.SendDone && !f.noDone,
		Tracing: hub.TracingConfig{
			Exporter:     h.Tracing.Exporter,
			OTLPEndpoint: h.Tracing.OTLPEndpoint,
			Writer:       a.errOut,
		},
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultHubDataDir
	}
	cfg.DataDir = config.ExpandPath(cfg.DataDir)

	metricsListen := h.MetricsListen
	if f.metricsListen != "" {
		metricsListen = f.metricsListen
	}
	cfg.ExternalMetrics = metricsListen != ""
	return cfg, metricsListen
}

// runServe runs the hub, and the metrics listener when configured, until
// ctx is done or either fails.
func (a *app) runServe(ctx context.Context, f serveFlags) error {
	cfg, metricsListen := a.hubConfig(f)
	svc, err := hub.New(cfg, nil, a.logger.Slog(), nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			a.logger.Error("hub close failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	if metricsListen != "" {
		srv := &http.Server{
			Addr:              metricsListen,
			Handler:           svc.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		a.printer.Info("Metrics on http://" + metricsListen + "/metrics")
	}

	a.printer.Success(fmt.Sprintf("Hub listening on %s (in memory: %t, done frames: %t)",
		cfg.Listen, cfg.InMemory, cfg.SendDone))
	if len(cfg.Tokens) == 0 {
		a.printer.Warning("No tokens configured under hub.tokens; every request will be rejected.")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.printer.Info("Hub stopped.")
	return nil
}
