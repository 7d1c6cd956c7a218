// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the monitoring runtime:
// - envelope emission per monitor and outcome
// - subscriber dispatch and drops
// - retry/shutdown lifecycle
// - probe latency per protocol

var (
	// Envelope Metrics
	EnvelopesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_envelopes_emitted_total",
			Help: "Total envelopes emitted by protocol workers",
		},
		[]string{"monitor", "protocol", "status"}, // status: ok, error
	)

	EnvelopeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_envelope_errors_total",
			Help: "Total error envelopes by classified error type",
		},
		[]string{"monitor", "error_type"},
	)

	// Dispatch Metrics
	DispatchDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_dispatch_delivered_total",
			Help: "Messages delivered to subscriber inboxes",
		},
		[]string{"subscriber"},
	)

	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_dispatch_dropped_total",
			Help: "Messages dropped because a subscriber inbox was full",
		},
		[]string{"subscriber"},
	)

	SubscriberCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argos_subscribers",
			Help: "Currently registered subscriber inboxes",
		},
	)

	// Retry / Lifecycle Metrics
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_retries_scheduled_total",
			Help: "Retry commands sent to protocol workers",
		},
		[]string{"monitor"},
	)

	MonitorShutdowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_monitor_shutdowns_total",
			Help: "Monitors shut down after exhausting their retry policy",
		},
		[]string{"monitor"},
	)

	MonitorsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argos_monitors_active",
			Help: "Coordinators currently running",
		},
	)

	// Probe Metrics
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argos_probe_duration_seconds",
			Help:    "Duration of protocol probes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor", "protocol"},
	)

	// Bridge Metrics
	BridgePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_bridge_published_total",
			Help: "Envelopes forwarded to the external broker",
		},
		[]string{"subject"},
	)

	BridgeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argos_bridge_errors_total",
			Help: "Failed broker publishes (including circuit breaker rejections)",
		},
		[]string{"subject"},
	)
)

// ObserveProbe records a probe duration.
func ObserveProbe(monitor, protocol string, d time.Duration) {
	ProbeDuration.WithLabelValues(monitor, protocol).Observe(d.Seconds())
}
