// Package metrics provides Prometheus metrics for the ledger query service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ekaya_ledger"

// Recorder holds the service's collectors. A nil *Recorder is valid and records nothing,
// so components can be constructed without metrics in tests.
type Recorder struct {
	gatherer prometheus.Gatherer

	pipelineTurns      *prometheus.CounterVec
	pipelineDuration   *prometheus.HistogramVec
	validationRejects  *prometheus.CounterVec
	schemaRefreshes    *prometheus.CounterVec
	suspiciousFilters  *prometheus.CounterVec
	modelCalls         *prometheus.CounterVec
	queryRows          prometheus.Histogram
	sqlGenerationRetry prometheus.Counter
}

// NewRecorder registers the collectors with reg. Pass prometheus.NewRegistry()
// in tests to keep them isolated.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,

		// pipelineTurns tracks finished turns by terminal stage
		pipelineTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "turns_total",
				Help:      "Total number of pipeline turns by terminal stage",
			},
			[]string{"stage", "error_kind"},
		),

		pipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "turn_duration_seconds",
				Help:      "Duration of pipeline turns in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),

		validationRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validator",
				Name:      "rejections_total",
				Help:      "Total number of validator issues by kind",
			},
			[]string{"kind"},
		),

		schemaRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "refreshes_total",
				Help:      "Total number of schema snapshot refreshes by source",
			},
			[]string{"source"},
		),

		suspiciousFilters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "injector",
				Name:      "suspicious_filter_values_total",
				Help:      "Filter values fingerprinted as SQL injection before sanitisation",
			},
			[]string{"filter_key"},
		),

		modelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "calls_total",
				Help:      "Total number of model calls by purpose and outcome",
			},
			[]string{"purpose", "outcome"},
		),

		queryRows: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "rows_returned",
				Help:      "Rows returned per executed query",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),

		sqlGenerationRetry: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "template_retries_total",
				Help:      "SQL generations retried through the rule-based builder",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// TurnFinished records a terminal pipeline stage. errorKind is empty for successful turns.
func (r *Recorder) TurnFinished(stage, errorKind string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.pipelineTurns.WithLabelValues(stage, errorKind).Inc()
	r.pipelineDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ValidationIssue counts one validator issue of the given kind.
func (r *Recorder) ValidationIssue(kind string) {
	if r == nil {
		return
	}
	r.validationRejects.WithLabelValues(kind).Inc()
}

// SchemaRefreshed counts a snapshot replacement; source is "discovered" or "fallback".
func (r *Recorder) SchemaRefreshed(source string) {
	if r == nil {
		return
	}
	r.schemaRefreshes.WithLabelValues(source).Inc()
}

// SuspiciousFilterValue counts a filter value libinjection flagged.
func (r *Recorder) SuspiciousFilterValue(filterKey string) {
	if r == nil {
		return
	}
	r.suspiciousFilters.WithLabelValues(filterKey).Inc()
}

// ModelCall counts a model invocation; outcome is "ok" or an llm error type.
func (r *Recorder) ModelCall(purpose, outcome string) {
	if r == nil {
		return
	}
	r.modelCalls.WithLabelValues(purpose, outcome).Inc()
}

// RowsReturned observes the size of an executed result set.
func (r *Recorder) RowsReturned(n int) {
	if r == nil {
		return
	}
	r.queryRows.Observe(float64(n))
}

// TemplateRetry counts a legacy-mode retry through the rule-based builder.
func (r *Recorder) TemplateRetry() {
	if r == nil {
		return
	}
	r.sqlGenerationRetry.Inc()
}
