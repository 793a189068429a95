// Package metrics exposes prometheus instruments for the sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutboundPushes counts push-message executions by outcome:
	// ticket_created, comment_added, skipped, failed, abandoned.
	OutboundPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zendesk_sync_outbound_pushes_total",
			Help: "Outbound push attempts by outcome",
		},
		[]string{"outcome"},
	)

	// InboundDeliveries counts webhook deliveries by outcome:
	// created, duplicate, no_comment, category_disabled, rejected, failed.
	InboundDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zendesk_sync_inbound_deliveries_total",
			Help: "Inbound webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zendesk_sync_remote_requests_total",
			Help: "Requests to the ticketing service by operation and result",
		},
		[]string{"operation", "result"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zendesk_sync_remote_request_duration_seconds",
			Help:    "Latency of requests to the ticketing service",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zendesk_sync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zendesk_sync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zendesk_sync_jobs_scheduled_total",
			Help: "Jobs placed on the delayed queue",
		},
		[]string{"task"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zendesk_sync_jobs_processed_total",
			Help: "Jobs run by the worker pool by result",
		},
		[]string{"task", "result"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zendesk_sync_queue_depth",
			Help: "Jobs waiting on the delayed queue, due or not",
		},
	)
)
