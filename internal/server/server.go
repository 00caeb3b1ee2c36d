/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server bundles the HTTP surface (spec.md §6.2) and wires every
// component together: the SFU router, the Room Registry, the event bus,
// the Egress Supervisor, the signaling websocket and the compatibility
// upload endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/voxegress/internal/analysis"
	"github.com/example/voxegress/internal/config"
	"github.com/example/voxegress/internal/egress"
	"github.com/example/voxegress/internal/eventbus"
	"github.com/example/voxegress/internal/httpchunk"
	"github.com/example/voxegress/internal/rooms"
	"github.com/example/voxegress/internal/sfu"
	"github.com/example/voxegress/internal/signaling"
	"github.com/example/voxegress/internal/telemetry"
)

// Server bundles the HTTP server and the components it dispatches to.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	sfuRouter  *sfu.Router
	registry   *rooms.Registry
	bus        eventbus.Bus
	forwarder  *analysis.Forwarder
	egressSup  *egress.Supervisor
	signalingH *signaling.Handler
	uploadH    *httpchunk.Handler
}

// New constructs the server, wiring every component from cfg.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("voxegress"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(corsMiddleware)

	srv := &Server{cfg: cfg, logger: logger, router: router}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}
	srv.configureRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	sfuRouter, err := sfu.NewRouter(sfu.Config{
		RTCMinPort:  s.cfg.RTCMinPort,
		RTCMaxPort:  s.cfg.RTCMaxPort,
		AnnouncedIP: s.cfg.AnnouncedIP,
	})
	if err != nil {
		return fmt.Errorf("create sfu router: %w", err)
	}
	s.sfuRouter = sfuRouter

	registry := rooms.New(s.logger)
	s.registry = registry

	nodeID := fmt.Sprintf("voxegress-%d", time.Now().UnixNano())
	bus, err := eventbus.New(s.cfg, nodeID, s.logger, registry.ReceiveRemote)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	registry.SetBus(bus)
	s.bus = bus
	s.DeferClose(bus.Close)

	s.forwarder = analysis.New(s.cfg.PythonURL, s.cfg.PythonTimeout)

	s.egressSup = egress.New(egress.Config{
		Loopback:        "127.0.0.1",
		GstBin:          s.cfg.GstBin,
		SpoolDir:        s.cfg.EgressDir,
		ChunkSeconds:    s.cfg.EgressChunkSecs,
		WatchPollMs:     s.cfg.WatchPollMs,
		JitterLatencyMs: s.cfg.JitterLatencyMs,
		MaxPortRetries:  s.cfg.MaxPortRetries,
		StartupGraceMs:  s.cfg.StartupGraceMs,
	}, s.forwarder, registry, s.logger)

	s.signalingH = signaling.New(sfuRouter, registry, s.egressSup, s.cfg.AutoEgress, s.logger)
	s.uploadH = httpchunk.New(s.forwarder, registry, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// DeferClose registers a cleanup hook run in reverse order by Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases owned resources in reverse acquisition order.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) configureRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.HandleFunc("/ws", s.signalingH.ServeHTTP)
	s.router.Handle("/upload-audio", s.uploadH)
}

// corsMiddleware applies the fixed CORS policy spec.md §6.2 requires.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
