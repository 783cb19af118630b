package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit log.
type Metrics struct {
	RecordsAppended prometheus.Counter
	AppendConflicts prometheus.Counter
	AppendFailures  prometheus.Counter
	AppendDuration  prometheus.Histogram
	VerifyRuns      prometheus.Counter
	BreaksDetected  prometheus.Counter
	VerifyDuration  prometheus.Histogram
	ExportRows      prometheus.Counter
	SinkDropped     prometheus.Counter
}

// New creates a Metrics instance with all audit metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		RecordsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_records_appended_total",
			Help: "Total number of audit records appended to the chain",
		}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_append_conflicts_total",
			Help: "Total number of optimistic append conflicts (stale tail)",
		}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_append_failures_total",
			Help: "Total number of append attempts that failed to persist",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainlog_append_duration_seconds",
			Help:    "Time spent inside the append critical section",
			Buckets: prometheus.DefBuckets,
		}),
		VerifyRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_verify_runs_total",
			Help: "Total number of integrity verification runs",
		}),
		BreaksDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_breaks_detected_total",
			Help: "Total number of integrity breaks found by verification",
		}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainlog_verify_duration_seconds",
			Help:    "Duration of integrity verification runs",
			Buckets: prometheus.DefBuckets,
		}),
		ExportRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_export_rows_total",
			Help: "Total number of records rendered into exports",
		}),
		SinkDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainlog_sink_dropped_total",
			Help: "Total number of committed records dropped by the sink buffer",
		}),
	}
}
