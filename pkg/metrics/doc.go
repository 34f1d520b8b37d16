/*
Package metrics provides Prometheus metrics collection and exposition for Corral.

The metrics package defines and registers all Corral metrics using the Prometheus
client library, providing observability into the instruction pipeline, session
fleet, health monitoring, log collection, and usage accounting. Metrics are
exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

Corral's metrics system follows Prometheus best practices with instrumentation
across all components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Queue: enqueued, completed, failed,         │          │
	│  │         dead lettered, depth by state        │          │
	│  │  Sessions: per-status gauge, evictions,      │          │
	│  │            dispatch and barrier durations    │          │
	│  │  Health: probe outcomes, recoveries          │          │
	│  │  Logs: entries by level, drops, attachments  │          │
	│  │  Events: published and dropped by kind       │          │
	│  │  Usage: tokens by direction, cost micros     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Samples queue depth from a FleetSource every 15 seconds
  - Session, monitor, and attachment gauges are updated incrementally
  - Started and stopped with the orchestrator

Timer:
  - Convenience wrapper for histogram observations
  - NewTimer() at operation start, ObserveDuration() at end

Health Endpoints:
  - /healthz reports overall component health
  - /readyz gates on the store, queue, and runtime components
  - /livez answers as long as the process runs

# Usage

Counters and histograms are updated at the point of action:

	metrics.JobsEnqueued.WithLabelValues(string(job.Mode)).Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchDuration)

Gauges are sampled by the collector:

	collector := metrics.NewCollector(orchestrator)
	collector.Start()
	defer collector.Stop()

Exposition:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

# Integration Points

This package integrates with:

  - pkg/queue: Job lifecycle counters and rejection reasons
  - pkg/session: Session gauges, eviction and dispatch timing
  - pkg/worker: Instruction duration and retry counters
  - pkg/health: Probe and recovery outcome counters
  - pkg/logstream: Entry, drop, and reconnect counters
  - pkg/events: Published and dropped event counters
  - pkg/usage: Token and cost counters
  - cmd/corral: HTTP exposition endpoint

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
  - Metric naming: https://prometheus.io/docs/practices/naming/
*/
package metrics
