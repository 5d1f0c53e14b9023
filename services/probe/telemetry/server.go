// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// metricsShutdownTimeout bounds MetricsServer.Shutdown.
const metricsShutdownTimeout = 2 * time.Second

// NewMetricsRouter builds the scrape router: GET /metrics and GET /healthz.
//
// /metrics answers 404 until the prometheus exporter is active.
func NewMetricsRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("sidecarprobe-metrics"))

	router.GET("/metrics", func(c *gin.Context) {
		h := MetricsHandler()
		if h == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "prometheus exporter not enabled"})
			return
		}
		h.ServeHTTP(c.Writer, c.Request)
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// MetricsServer serves NewMetricsRouter for the lifetime of one run.
type MetricsServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan struct{}
}

// StartMetricsServer listens on addr and serves in the background.
//
// Outputs:
//
//	*MetricsServer - Call Shutdown when the run ends
//	error - Non-nil if addr could not be bound
func StartMetricsServer(addr string, logger *slog.Logger) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m := &MetricsServer{
		srv: &http.Server{
			Handler:           NewMetricsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return m, nil
}

// Addr returns the bound address.
func (m *MetricsServer) Addr() string { return m.ln.Addr().String() }

// Shutdown stops the server and waits for the serve loop.
func (m *MetricsServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	err := m.srv.Shutdown(ctx)
	<-m.done
	return err
}
