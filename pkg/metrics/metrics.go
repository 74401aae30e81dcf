// Package metrics provides Prometheus collectors for the import pipeline.
// Collectors are registered on the default registry so an embedding host can
// expose them through its own /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsExported tracks the total number of documents emitted per topic.
	// Labels: topic (routing key)
	DocumentsExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_export_documents_total",
			Help: "Total number of documents exported to Kafka",
		},
		[]string{"topic"},
	)

	// PagesScanned tracks the number of non-empty pages read per collection.
	// Labels: collection (database-qualified name)
	PagesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_export_pages_scanned_total",
			Help: "Total number of pages read from source collections",
		},
		[]string{"collection"},
	)

	// PageErrors tracks per-page query failures.
	// Labels: collection
	PageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_export_page_errors_total",
			Help: "Total number of failed page queries",
		},
		[]string{"collection"},
	)

	// PublishFailures tracks asynchronous Kafka delivery failures
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mongo_export_publish_failures_total",
			Help: "Total number of failed Kafka deliveries",
		},
	)

	// QueueDepth tracks the pending-message queue depth
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mongo_export_queue_depth",
			Help: "Current depth of the pending-message queue",
		},
	)

	// ImportDuration tracks the distribution of full import run durations in seconds
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mongo_export_import_duration_seconds",
			Help: "Duration of complete import runs in seconds",
			Buckets: []float64{
				0.1,  // trivial collections
				1,    // small collections
				10,   // typical runs
				60,   // large collections
				600,  // bulk backfills
				3600, // full re-imports
			},
		},
	)
)
