package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Total number of research runs finished, by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Stage metrics
	StagesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stages_started_total",
			Help: "Total number of stage executions started",
		},
		[]string{"stage"},
	)

	StagesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stages_completed_total",
			Help: "Total number of stage executions finished, by status",
		},
		[]string{"stage", "status"},
	)

	StagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stages_skipped_total",
			Help: "Total number of stages skipped on resume",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// Clarification metrics
	ClarificationsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_clarifications_requested_total",
			Help: "Total number of runs gated for clarification",
		},
	)

	ClarificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_clarifications_failed_total",
			Help: "Total number of clarification rounds that failed to resolve",
		},
	)

	// Worker pool metrics
	PoolTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_pool_tasks_in_flight",
			Help: "Number of acquisition tasks currently executing",
		},
	)

	PoolTasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_pool_tasks_submitted_total",
			Help: "Total number of tasks submitted to the worker pool",
		},
	)

	PoolTaskFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_pool_task_failures_total",
			Help: "Total number of per-item task failures in the worker pool",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// Citation metrics
	CitationsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_citations_registered_total",
			Help: "Total number of citations registered",
		},
	)

	// Verification metrics
	VerificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_verifications_failed_total",
			Help: "Total number of runs whose structural verification failed",
		},
	)
)
