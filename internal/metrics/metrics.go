// Package metrics exposes the pipeline's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_documents_processed_total",
		Help: "Documents run through the pipeline, by result.",
	}, []string{"result"}) // ok | unreadable | cancelled

	SectionsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_sections_extracted_total",
		Help: "Section extraction outcomes.",
	}, []string{"status"}) // OK | EXTRACTION_FAILED | NO_FINDINGS

	CandidatesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wrangler_candidates_extracted_total",
		Help: "Candidate findings produced by the extraction engine.",
	})

	TasksUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_tasks_upserted_total",
		Help: "Insert-or-merge results against the task store.",
	}, []string{"op"}) // created | merged

	DocumentSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wrangler_document_processing_seconds",
		Help:    "End-to-end per-document pipeline latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
