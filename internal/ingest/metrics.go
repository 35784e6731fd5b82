package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// objectsProcessed counts processed objects by format and outcome.
	// Labels: format (pdf, jpg, skipped), result (success, error)
	objectsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "objects_processed_total",
			Help:      "Total number of processed objects by format and result",
		},
		[]string{"format", "result"},
	)

	// processingDuration tracks end-to-end per-object pipeline time.
	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end object processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"format"},
	)

	// chunksIndexed counts chunk records persisted to tenant indexes.
	chunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunk records written to tenant indexes",
		},
	)
)

func recordProcessed(format, result string, duration time.Duration) {
	objectsProcessed.WithLabelValues(format, result).Inc()
	processingDuration.WithLabelValues(format).Observe(duration.Seconds())
}
