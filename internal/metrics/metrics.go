// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package metrics defines the Prometheus collectors for both processes.
// The Edge exposes them on /metrics; the Core's collectors are visible in
// its own process only and exist mainly for tests and future scraping.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Edge metrics

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folium_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folium_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	CorrelatorPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folium_correlator_pending_entries",
			Help: "Requests currently waiting for a Core reply",
		},
	)

	CorrelatorTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folium_correlator_timeouts_total",
			Help: "Requests that expired before their reply arrived",
		},
	)

	CorrelatorLateReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folium_correlator_late_replies_total",
			Help: "Replies discarded because their waiter had timed out",
		},
	)

	// Core metrics

	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folium_tasks_processed_total",
			Help: "Tasks processed by the worker pool",
		},
		[]string{"kind", "outcome"},
	)

	TasksDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folium_tasks_dropped_total",
			Help: "Tasks rejected by admission control (queue full)",
		},
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folium_task_queue_depth",
			Help: "Tasks currently waiting in the priority queue",
		},
	)

	TaskHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folium_task_handler_duration_seconds",
			Help:    "Business handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTask records one processed task.
func RecordTask(kind string, outcome string, duration time.Duration) {
	TasksProcessedTotal.WithLabelValues(kind, outcome).Inc()
	TaskHandlerDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
