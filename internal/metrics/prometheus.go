package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a bulk load run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Source metrics
	SourceFilesTotal      prometheus.Gauge
	PartitionsRoutedTotal prometheus.Counter
	PlanUnitsTotal        prometheus.Gauge

	// Session metrics
	ConnectAttemptsTotal *prometheus.CounterVec
	SessionsTotal        *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge

	// Transfer metrics
	UnitsTotal        *prometheus.CounterVec
	ReroutesTotal     prometheus.Counter
	BytesSentTotal    *prometheus.CounterVec
	UnitSendDuration  prometheus.Histogram
	RunDurationSecond prometheus.Histogram
}

// NewMetrics creates all metrics on reg. A nil reg gets a fresh registry that
// also exports Go runtime and process metrics.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SourceFilesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "source_files",
			Help:      "Number of validated source files",
		}),
		PartitionsRoutedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "partitions_routed_total",
			Help:      "Total number of partitions placed in the stream plan",
		}),
		PlanUnitsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "plan_units",
			Help:      "Number of range units in the stream plan",
		}),

		ConnectAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to endpoints by result",
		}, []string{"result"}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "sessions_total",
			Help:      "Streaming sessions by terminal state",
		}, []string{"state"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "active_sessions",
			Help:      "Sessions currently connecting or streaming",
		}),

		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "units_total",
			Help:      "Range units by outcome",
		}, []string{"outcome"}),
		ReroutesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "reroutes_total",
			Help:      "Sends retried on a fallback replica",
		}),
		BytesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "bytes_sent_total",
			Help:      "Bytes acknowledged per endpoint",
		}, []string{"endpoint"}),
		UnitSendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "unit_send_duration_seconds",
			Help:      "Time to stream and acknowledge one range unit",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		RunDurationSecond: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pairdb",
			Subsystem: "bulkload",
			Name:      "run_duration_seconds",
			Help:      "Duration of complete load runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
}

// Registry returns the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Helper methods for recording metrics

func (m *Metrics) RecordSource(files int) {
	if m == nil {
		return
	}
	m.SourceFilesTotal.Set(float64(files))
}

func (m *Metrics) RecordPlan(partitions, units int) {
	if m == nil {
		return
	}
	m.PartitionsRoutedTotal.Add(float64(partitions))
	m.PlanUnitsTotal.Set(float64(units))
}

func (m *Metrics) RecordConnect(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ConnectAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionFinished(state string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordUnitSent(endpoint string, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	m.BytesSentTotal.WithLabelValues(endpoint).Add(float64(bytes))
	m.UnitSendDuration.Observe(seconds)
}

func (m *Metrics) RecordUnitOutcome(outcome string) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordReroute() {
	if m == nil {
		return
	}
	m.ReroutesTotal.Inc()
}

func (m *Metrics) RecordRun(seconds float64) {
	if m == nil {
		return
	}
	m.RunDurationSecond.Observe(seconds)
}
