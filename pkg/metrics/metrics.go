// Package metrics holds the Prometheus collectors of the query pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docqa"

var (
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_requests_total",
		Help:      "Chat requests by classified intent.",
	}, []string{"intent"})

	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_errors_total",
		Help:      "Surfaced pipeline errors by category.",
	}, []string{"category"})

	ClassifierFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifier_fallbacks_total",
		Help:      "Intent classifications that failed open to query_documents.",
	}, []string{"reason"})

	SearchDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_degraded_total",
		Help:      "Searches that failed transiently and continued with an empty context.",
	})

	StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_chunks_total",
		Help:      "Text chunks forwarded to clients.",
	})

	SearchHits = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_hits",
		Help:      "Number of hits returned per search.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Latency of individual pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)
