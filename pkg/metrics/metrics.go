package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	DispatchRuns     *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	Deliveries       *prometheus.CounterVec
	ClaimsDenied     *prometheus.CounterVec
	UsersSkipped     prometheus.Counter
	LogFailures      prometheus.Counter

	// Inbound SMS metrics
	InboundCommands *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return build(promauto.With(prometheus.DefaultRegisterer), namespace, subsystem)
}

// New creates the same collectors without registering them. Tests build one per case.
func New(namespace string) *Metrics {
	return build(promauto.With(nil), namespace, "")
}

func build(f promauto.Factory, namespace, subsystem string) *Metrics {
	return &Metrics{
		DispatchRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_runs_total",
			Help:      "Total number of dispatch runs by result",
		}, []string{"status"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a single dispatch run",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		ClaimsDenied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "claims_denied_total",
			Help:      "Claims rejected by the dedup coordinator",
		}, []string{"reason"}),
		UsersSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "users_skipped_total",
			Help:      "Due users that produced no delivery",
		}),
		LogFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "log_failures_total",
			Help:      "Failed writes of delivery log entries or claim updates",
		}),

		InboundCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inbound_sms_commands_total",
			Help:      "Inbound SMS commands by kind",
		}, []string{"command"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		RedisOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
	}
}

// ObserveDB records a database call outcome under the given operation label.
func (m *Metrics) ObserveDB(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
}
