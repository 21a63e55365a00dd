// Package metrics defines the Prometheus metrics for the vector service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexing metrics
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailorcv_index_events_total",
			Help: "Total cv.created events by terminal outcome",
		},
		[]string{"outcome"}, // acked | requeued | poisoned | empty
	)

	IndexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tailorcv_index_duration_seconds",
			Help:    "End-to-end processing time for one cv.created event",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChunksProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailorcv_chunks_produced_total",
			Help: "Chunks produced by the chunker per section",
		},
		[]string{"section"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailorcv_embedding_requests_total",
			Help: "Embedding backend calls by status",
		},
		[]string{"model", "status"}, // ok | batch_ok | error | empty | lru_hit | cache_hit
	)

	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tailorcv_embedding_duration_seconds",
			Help:    "Embedding backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Vector store metrics
	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailorcv_vector_upserts_total",
			Help: "Vector upsert batches by status",
		},
		[]string{"collection", "status"},
	)

	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailorcv_vector_searches_total",
			Help: "Vector searches by status",
		},
		[]string{"collection", "status"},
	)

	VectorSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tailorcv_vector_search_duration_seconds",
			Help:    "Vector search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Retrieval metrics
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailorcv_retrieval_requests_total",
			Help: "Retriever operations by status",
		},
		[]string{"operation", "status"}, // similar_chunks | top_k_cvs
	)

	RetrievalChunksReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tailorcv_retrieval_chunks_returned",
			Help:    "Accepted chunks per similar_chunks request",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)
)

// RecordEventOutcome increments the consumer outcome counter.
func RecordEventOutcome(outcome string, durationSeconds float64) {
	EventsProcessed.WithLabelValues(outcome).Inc()
	if durationSeconds > 0 {
		IndexDuration.Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records one embedding backend interaction.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingDuration.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records one search against the vector store.
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	VectorSearchDuration.WithLabelValues(collection).Observe(durationSeconds)
}

// RecordVectorUpsert records one upsert batch against the vector store.
func RecordVectorUpsert(collection, status string) {
	VectorUpserts.WithLabelValues(collection, status).Inc()
}
