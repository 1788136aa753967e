package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests against the control surface.",
		},
		[]string{"engine", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tidectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"engine", "method", "path", "status"},
	)
	syncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidectl",
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Completed sync operations by application and phase.",
		},
		[]string{"application", "phase"},
	)
	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tidectl",
			Subsystem: "sync",
			Name:      "operation_duration_seconds",
			Help:      "Sync operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"application", "phase"},
	)
	rolloutTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidectl",
			Subsystem: "rollout",
			Name:      "transitions_total",
			Help:      "Rollout state transitions by workload and target state.",
		},
		[]string{"workload", "state"},
	)
	analysisVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidectl",
			Subsystem: "analysis",
			Name:      "verdicts_total",
			Help:      "Analysis verdicts by workload and verdict.",
		},
		[]string{"workload", "verdict"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			syncOperations,
			syncDuration,
			rolloutTransitions,
			analysisVerdicts,
		)
	})
}

func RecordHTTPRequest(engine, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(engine, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(engine, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSyncOperation(application, phase string, duration time.Duration) {
	RegisterMetrics()
	syncOperations.WithLabelValues(application, phase).Inc()
	syncDuration.WithLabelValues(application, phase).Observe(duration.Seconds())
}

func RecordRolloutTransition(workload, state string) {
	RegisterMetrics()
	rolloutTransitions.WithLabelValues(workload, state).Inc()
}

func RecordAnalysisVerdict(workload, verdict string) {
	RegisterMetrics()
	analysisVerdicts.WithLabelValues(workload, verdict).Inc()
}
