package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule engine metrics
var (
	EngineRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsummary_engine_runs_total",
			Help: "Total number of rule engine batch runs",
		},
	)

	EngineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsummary_engine_run_duration_seconds",
			Help:    "Duration of full rule engine batch runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RuleExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_rule_executions_total",
			Help: "Total number of per-rule executions",
		},
		[]string{"result"},
	)

	RuleMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsummary_rule_matches_total",
			Help: "Total number of record matches across all rules",
		},
	)

	ActionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_action_errors_total",
			Help: "Total number of failed rule actions",
		},
		[]string{"action"},
	)
)

// Side-effect dispatch metrics
var (
	EffectDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_effect_dispatches_total",
			Help: "Total number of side-effect requests dispatched to the mail store",
		},
		[]string{"effect", "status"},
	)

	EffectDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsummary_effect_dispatch_duration_seconds",
			Help:    "Duration of side-effect dispatches in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"effect"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_notifications_total",
			Help: "Total number of notifications emitted",
		},
		[]string{"backend", "status"},
	)
)

// Mail store metrics
var (
	MessagesFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsummary_messages_fetched_total",
			Help: "Total number of messages fetched from the mail store",
		},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsummary_fetch_duration_seconds",
			Help:    "Duration of mail store fetch operations in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
	)
)

// Database metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsummary_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)

// Archive storage metrics
var (
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_s3_operations_total",
			Help: "Total number of S3 archive operations",
		},
		[]string{"operation", "status"},
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsummary_s3_operation_duration_seconds",
			Help:    "Duration of S3 archive operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)
)

// Cache metrics
var (
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsummary_cache_operations_total",
			Help: "Total number of local message cache operations",
		},
		[]string{"operation", "result"},
	)
)
