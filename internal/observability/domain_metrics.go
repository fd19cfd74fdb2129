package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablesense_pipeline_requests_total",
			Help: "Total number of answered questions by terminal outcome.",
		},
		[]string{"outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablesense_pipeline_stage_duration_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablesense_sql_validation_rejections_total",
			Help: "Candidate statements rejected before execution, by reason.",
		},
		[]string{"reason"},
	)
	indexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablesense_index_entries",
			Help: "Number of tables in the live schema index.",
		},
	)
	indexLoadedAtSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablesense_index_loaded_timestamp_seconds",
			Help: "Unix time of the last schema index swap.",
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablesense_query_rows_returned",
			Help:    "Rows returned per executed statement.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRequestsTotal,
		pipelineStageDurationSeconds,
		validationRejectionsTotal,
		indexEntries,
		indexLoadedAtSeconds,
		queryRowsReturned,
	)
}

func ObservePipelineOutcome(outcome string) {
	pipelineRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func SetIndexMetrics(entries int, loadedAt time.Time) {
	if entries < 0 {
		entries = 0
	}
	indexEntries.Set(float64(entries))
	indexLoadedAtSeconds.Set(float64(loadedAt.Unix()))
}

func ObserveRowsReturned(rows int) {
	queryRowsReturned.Observe(float64(rows))
}
