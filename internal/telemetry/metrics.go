/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing
// for the HTTP and signaling surfaces.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxegress_api_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxegress_api_requests_total",
		Help: "Total HTTP requests handled.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxegress_api_active_connections",
		Help: "In-flight HTTP requests, including open signaling sockets.",
	})

	// The egress, segment and room metrics below are registered and
	// exported, but no package in this module updates them, so they read
	// zero. Only the three API metrics above are recorded, by
	// MetricsMiddleware.
	EgressSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxegress_egress_sessions_active",
		Help: "Egress sessions currently in the Running state.",
	})

	EgressSessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxegress_egress_sessions_started_total",
		Help: "Egress sessions that reached Running, by outcome.",
	}, []string{"outcome"})

	EgressPortRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxegress_egress_port_retries_total",
		Help: "Port bind collisions retried during egress provisioning.",
	})

	SegmentForwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxegress_segment_forward_duration_seconds",
		Help:    "Duration of segment-to-analysis-service forwards.",
		Buckets: prometheus.DefBuckets,
	})

	SegmentForwardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxegress_segment_forward_failures_total",
		Help: "Segment forwards that failed, by reason.",
	}, []string{"reason"})

	SegmentsSpooled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxegress_segments_spooled_total",
		Help: "Segments picked up by the poller and forwarded.",
	})

	RoomBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxegress_room_broadcasts_total",
		Help: "Room broadcasts dispatched, by event type.",
	}, []string{"type"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
