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
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/abstat/pkg/telemetry"
	"github.com/AleutianAI/abstat/services/experiment"
	"github.com/AleutianAI/abstat/services/experiment/presets"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the experiment API over HTTP",
		Long: `Serves /v1/experiments and /metrics until interrupted. When presets_file
is configured, edits to it are picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return c.serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

// serve runs the API on ln until ctx is canceled, then drains in-flight
// requests and flushes telemetry.
func (c *cli) serve(ctx context.Context, ln net.Listener) (err error) {
	shutdownTelemetry, err := telemetry.Init(ctx, c.cfg.Telemetry)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, shutdownTelemetry(flushCtx))
	}()

	registry := presets.NewRegistry()
	if c.cfg.PresetsFile != "" {
		if err := registry.Watch(ctx, c.cfg.PresetsFile, presets.WatchOptions{Logger: c.logger}); err != nil {
			_ = ln.Close()
			return fmt.Errorf("watch presets: %w", err)
		}
	}

	svc, err := experiment.NewService(experiment.ServiceConfig{
		Presets: registry,
		Logger:  c.logger,
	})
	if err != nil {
		_ = ln.Close()
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := experiment.NewRouter(experiment.NewHandlers(svc, c.logger), experiment.RouterConfig{
		ServiceName: c.cfg.Telemetry.ServiceName,
		RateLimit:   c.cfg.Server.RateLimit,
		Burst:       c.cfg.Server.Burst,
	})

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		c.logger.Info("Serving experiment API", "addr", ln.Addr().String(), "presets", registry.Source())
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	c.logger.Info("Shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(drainCtx)
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	return shutdownErr
}
