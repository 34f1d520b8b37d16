package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by mode",
		},
		[]string{"mode"},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_jobs_failed_total",
			Help: "Total number of job attempts that failed",
		},
	)

	JobsRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_jobs_retried_total",
			Help: "Total number of jobs scheduled for retry after a failed attempt",
		},
	)

	JobsDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter set",
		},
	)

	JobsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_jobs_rejected_total",
			Help: "Total number of enqueue requests rejected by reason",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_queue_depth",
			Help: "Number of jobs in the queue by state across all containers",
		},
		[]string{"state"},
	)

	ClaimsDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_claims_deferred_total",
			Help: "Total number of claim attempts deferred by the per-container rate limit",
		},
	)

	// Session metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_sessions_total",
			Help: "Number of tracked sessions by status",
		},
		[]string{"status"},
	)

	SessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_sessions_evicted_total",
			Help: "Total number of sessions stopped by the idle evictor",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_dispatch_duration_seconds",
			Help:    "Time from instruction write to captured result in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	BarrierWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_barrier_wait_seconds",
			Help:    "Time spent waiting for background agents to settle in seconds",
			Buckets: []float64{0.5, 2, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Instruction pipeline metrics
	InstructionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_instruction_duration_seconds",
			Help:    "End to end instruction processing duration in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Health metrics
	HealthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_health_checks_total",
			Help: "Total number of health probes by outcome",
		},
		[]string{"outcome"},
	)

	Recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_recoveries_total",
			Help: "Total number of recovery attempts by outcome",
		},
		[]string{"outcome"},
	)

	MonitorsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_monitors_active",
			Help: "Number of containers currently under health monitoring",
		},
	)

	// Log collector metrics
	LogEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_log_entries_total",
			Help: "Total number of container log entries stored by level",
		},
		[]string{"level"},
	)

	LogEntriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_log_entries_dropped_total",
			Help: "Total number of container log entries dropped before storage",
		},
	)

	LogAttachments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_log_attachments",
			Help: "Number of active container log attachments",
		},
	)

	LogReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_log_reconnects_total",
			Help: "Total number of log stream reconnect attempts",
		},
	)

	// Event bus metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_events_published_total",
			Help: "Total number of events published by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_events_dropped_total",
			Help: "Total number of events dropped from slow subscriber buffers by kind",
		},
		[]string{"kind"},
	)

	// Lifecycle metrics
	LifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_lifecycle_transitions_total",
			Help: "Total number of container lifecycle transitions by kind",
		},
		[]string{"transition"},
	)

	LifecycleStepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_lifecycle_step_errors_total",
			Help: "Total number of non-fatal lifecycle step failures by step",
		},
		[]string{"step"},
	)

	// Usage metrics
	UsageTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_usage_tokens_total",
			Help: "Total number of assistant tokens accounted by direction",
		},
		[]string{"direction"},
	)

	UsageCostMicros = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_usage_cost_micros_total",
			Help: "Total accounted assistant cost in USD micros",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsEnqueued)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(JobsRetried)
	prometheus.MustRegister(JobsDeadLettered)
	prometheus.MustRegister(JobsRejected)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ClaimsDeferred)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionsEvicted)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(BarrierWaitDuration)
	prometheus.MustRegister(InstructionDuration)
	prometheus.MustRegister(HealthChecks)
	prometheus.MustRegister(Recoveries)
	prometheus.MustRegister(MonitorsActive)
	prometheus.MustRegister(LogEntriesTotal)
	prometheus.MustRegister(LogEntriesDropped)
	prometheus.MustRegister(LogAttachments)
	prometheus.MustRegister(LogReconnects)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(LifecycleTransitions)
	prometheus.MustRegister(LifecycleStepErrors)
	prometheus.MustRegister(UsageTokens)
	prometheus.MustRegister(UsageCostMicros)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
