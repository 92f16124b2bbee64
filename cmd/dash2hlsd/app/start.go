// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamshift/dash2hls/pkg/logging"
)

// SetupServer sets up router, middleware, and server, given koanf configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(addVersionAndCORSHeaders)
	r.Use(NewPrometheusMiddleware())

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	r.Mount("/metrics", promhttp.Handler())
	r.Mount("/debug", middleware.Profiler())

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	fetchTimeout := time.Duration(cfg.FetchTimeoutS) * time.Second
	server := Server{
		Router: r,
		Cfg:    cfg,
		mgr:    NewStreamManager(cfg.OutDir, fetchTimeout, cfg.MP4DecryptPath),
		bkgCtx: ctx,
	}
	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	return &server, nil
}

// Shutdown stops all stream sessions. Call after the HTTP server has
// stopped accepting requests.
func (s *Server) Shutdown() {
	s.mgr.Shutdown()
}
